package registry

// Binding records what room and identity a live connection currently
// represents. It is the sole source of truth for that question: relay
// handlers must never trust room or identity fields supplied in payloads.
type Binding struct {
	RoomID   string
	UserID   string
	UserName string
	IsOwner  bool
}

// ConnectionIndex maps a live connection id to its binding. Entries are
// created and destroyed in lock-step with registry membership changes, under
// the same serialization point as RoomRegistry.
type ConnectionIndex struct {
	conns map[string]Binding
}

func NewConnectionIndex() *ConnectionIndex {
	return &ConnectionIndex{conns: make(map[string]Binding)}
}

func (c *ConnectionIndex) Bind(connID string, b Binding) {
	c.conns[connID] = b
}

func (c *ConnectionIndex) Lookup(connID string) (Binding, bool) {
	b, ok := c.conns[connID]
	return b, ok
}

func (c *ConnectionIndex) Unbind(connID string) {
	delete(c.conns, connID)
}

// Len returns the number of bound connections.
func (c *ConnectionIndex) Len() int {
	return len(c.conns)
}
