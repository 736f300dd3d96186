package domain

import (
	"time"
)

// Member represents an active participant in a room. Its ID is the
// connection identifier at the time of joining; when a disconnected owner
// reclaims the room from a new connection the old record is replaced by one
// keyed on the new connection id.
type Member struct {
	ID            string
	Name          string
	IsOwner       bool
	JoinedAt      time.Time
	LastHeartbeat time.Time
}

// Touch refreshes the member's liveness clock.
func (m *Member) Touch(now time.Time) {
	m.LastHeartbeat = now
}
