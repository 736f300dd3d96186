package registry

import (
	"fmt"
	"time"

	"watchroom/internal/domain"
)

// CreateSpec carries the owner-supplied parameters for a new room.
type CreateSpec struct {
	Name        string
	Description string
	Password    string
	IsPublic    bool
	OwnerConnID string
	OwnerName   string
	Now         time.Time
}

// RoomRegistry owns the canonical room-id -> Room map. It is plain data with
// invariant-preserving mutators and carries no locking of its own: every
// access must go through the single serialization point (the room service
// mutex), timer callbacks included.
type RoomRegistry struct {
	rooms map[string]*domain.Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*domain.Room)}
}

// Create builds a room with a fresh id and owner token and implicitly adds
// the creator as the sole, owning member.
func (r *RoomRegistry) Create(spec CreateSpec) *domain.Room {
	id := NewRoomID()
	for r.rooms[id] != nil {
		id = NewRoomID()
	}

	owner := &domain.Member{
		ID:            spec.OwnerConnID,
		Name:          spec.OwnerName,
		IsOwner:       true,
		JoinedAt:      spec.Now,
		LastHeartbeat: spec.Now,
	}

	room := &domain.Room{
		ID:                 id,
		Name:               spec.Name,
		Description:        spec.Description,
		Password:           spec.Password,
		IsPublic:           spec.IsPublic,
		OwnerID:            spec.OwnerConnID,
		OwnerName:          spec.OwnerName,
		OwnerToken:         NewOwnerToken(),
		Members:            map[string]*domain.Member{owner.ID: owner},
		CreatedAt:          spec.Now,
		LastOwnerHeartbeat: spec.Now,
	}
	r.recount(room)

	r.rooms[id] = room
	return room
}

// Get returns the room or nil when the id is unknown; callers decide whether
// absence is fatal.
func (r *RoomRegistry) Get(roomID string) *domain.Room {
	return r.rooms[roomID]
}

// ListPublic returns the rooms visible in listings.
func (r *RoomRegistry) ListPublic() []*domain.Room {
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if room.IsPublic {
			out = append(out, room)
		}
	}
	return out
}

// All returns every room; the cleanup sweep iterates this.
func (r *RoomRegistry) All() []*domain.Room {
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// AddMember inserts or replaces the member record and recomputes the count.
func (r *RoomRegistry) AddMember(roomID string, m *domain.Member) {
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	room.Members[m.ID] = m
	r.recount(room)
}

// RemoveMember deletes the member record and recomputes the count. It
// returns the removed member, or nil when it was not present.
func (r *RoomRegistry) RemoveMember(roomID, memberID string) *domain.Member {
	room := r.rooms[roomID]
	if room == nil {
		return nil
	}
	m, ok := room.Members[memberID]
	if !ok {
		return nil
	}
	delete(room.Members, memberID)
	r.recount(room)
	return m
}

// SetState stores the last authorized state broadcast.
func (r *RoomRegistry) SetState(roomID string, state *domain.RoomState) {
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	room.CurrentState = state
}

// Delete removes the room and its member map. Subsequent events for the id
// behave as absent-room no-ops.
func (r *RoomRegistry) Delete(roomID string) {
	delete(r.rooms, roomID)
}

// Len returns the number of live rooms.
func (r *RoomRegistry) Len() int {
	return len(r.rooms)
}

// recount keeps MemberCount equal to the member map cardinality. Nothing
// else is ever allowed to set it.
func (r *RoomRegistry) recount(room *domain.Room) {
	room.MemberCount = len(room.Members)
}

// CheckInvariants verifies the registry-wide invariants. Violations are
// programming errors; tests assert on this after every mutation.
func (r *RoomRegistry) CheckInvariants() error {
	for id, room := range r.rooms {
		if room.MemberCount != len(room.Members) {
			return fmt.Errorf("room %s: member count %d != map size %d", id, room.MemberCount, len(room.Members))
		}
		owners := 0
		for _, m := range room.Members {
			if m.IsOwner {
				owners++
			}
		}
		if owners > 1 {
			return fmt.Errorf("room %s: %d members marked owner", id, owners)
		}
	}
	return nil
}
