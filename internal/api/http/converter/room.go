package converter

import (
	"time"

	"watchroom/internal/domain"
)

// RoomResponse is the API view of a room. Password and owner token never
// appear here; the token travels only in the create-room reply.
type RoomResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	IsPublic     bool              `json:"is_public"`
	HasPassword  bool              `json:"has_password"`
	OwnerID      string            `json:"owner_id"`
	OwnerName    string            `json:"owner_name"`
	MemberCount  int               `json:"member_count"`
	CurrentState *domain.RoomState `json:"current_state,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type MemberResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsOwner  bool      `json:"is_owner"`
	JoinedAt time.Time `json:"joined_at"`
}

func RoomToAPI(r *domain.Room) *RoomResponse {
	if r == nil {
		return nil
	}
	return &RoomResponse{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		IsPublic:     r.IsPublic,
		HasPassword:  r.HasPassword(),
		OwnerID:      r.OwnerID,
		OwnerName:    r.OwnerName,
		MemberCount:  r.MemberCount,
		CurrentState: r.CurrentState,
		CreatedAt:    r.CreatedAt,
	}
}

func RoomsToAPI(rooms []*domain.Room) []*RoomResponse {
	out := make([]*RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomToAPI(r))
	}
	return out
}

func MemberToAPI(m *domain.Member) MemberResponse {
	return MemberResponse{
		ID:       m.ID,
		Name:     m.Name,
		IsOwner:  m.IsOwner,
		JoinedAt: m.JoinedAt,
	}
}

func MembersToAPI(members []*domain.Member) []MemberResponse {
	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, MemberToAPI(m))
	}
	return out
}
