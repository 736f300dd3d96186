package domain

import (
	"time"
)

// Room represents one watch session: a short-lived group of members sharing
// synchronized playback and chat. All fields except OwnerID, CurrentState,
// MemberCount and LastOwnerHeartbeat are immutable after creation.
type Room struct {
	ID          string
	Name        string
	Description string
	Password    string
	IsPublic    bool

	// OwnerID is the connection id currently holding ownership. It is
	// reassigned when a disconnected owner reclaims the room with the
	// owner token.
	OwnerID   string
	OwnerName string

	// OwnerToken is generated once at creation and never sent to anyone
	// but the creating connection.
	OwnerToken string

	Members     map[string]*Member
	MemberCount int

	// CurrentState is the last state broadcast by an authorized sender;
	// nil until the first update.
	CurrentState *RoomState

	CreatedAt          time.Time
	LastOwnerHeartbeat time.Time

	// LastChatAt keeps chat timestamps monotonically non-decreasing
	// within the room.
	LastChatAt time.Time
}

// HasPassword reports whether joining requires a password match.
func (r *Room) HasPassword() bool {
	return r.Password != ""
}

// Owner returns the owning member, or nil when the owner connection is gone.
func (r *Room) Owner() *Member {
	if r == nil {
		return nil
	}
	return r.Members[r.OwnerID]
}

// StateType tags the RoomState union.
type StateType string

const (
	StateTypePlay StateType = "play"
	StateTypeLive StateType = "live"
)

// RoomState is a tagged union over video-on-demand playback and live channel
// state. Exactly one of Play/Live is set, matching Type.
type RoomState struct {
	Type StateType      `json:"type"`
	Play *PlaybackState `json:"play,omitempty"`
	Live *ChannelState  `json:"live,omitempty"`
}

// PlaybackState describes a video-on-demand position.
type PlaybackState struct {
	MediaID   string  `json:"media_id"`
	EpisodeID string  `json:"episode_id,omitempty"`
	Position  float64 `json:"position"`
	Paused    bool    `json:"paused"`
	Source    string  `json:"source,omitempty"`
}

// ChannelState describes a live channel selection.
type ChannelState struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
}

// Clone returns a deep copy safe to hand outside the serialization point.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Members = make(map[string]*Member, len(r.Members))
	for id, m := range r.Members {
		mc := *m
		cp.Members[id] = &mc
	}
	if r.CurrentState != nil {
		st := *r.CurrentState
		if st.Play != nil {
			p := *st.Play
			st.Play = &p
		}
		if st.Live != nil {
			l := *st.Live
			st.Live = &l
		}
		cp.CurrentState = &st
	}
	return &cp
}

// PlayState wraps a PlaybackState into the union.
func PlayState(p PlaybackState) *RoomState {
	return &RoomState{Type: StateTypePlay, Play: &p}
}

// LiveState wraps a ChannelState into the union.
func LiveState(c ChannelState) *RoomState {
	return &RoomState{Type: StateTypeLive, Live: &c}
}
