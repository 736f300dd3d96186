package domain

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the websocket. Request/response events carry an
// envelope id and always receive a reply; the rest are fire-and-forget.
const (
	// server -> client, pushed once right after the upgrade
	EventConnected = "connected"

	// request/response
	EventCreateRoom = "create-room"
	EventJoinRoom   = "join-room"
	EventListRooms  = "list-rooms"

	// client -> server
	EventLeaveRoom    = "leave-room"
	EventPlayUpdate   = "play-update"
	EventPlaySeek     = "play-seek"
	EventPlayPlay     = "play-play"
	EventPlayPause    = "play-pause"
	EventPlayChange   = "play-change"
	EventLiveChange   = "live-change"
	EventChatMessage  = "chat-message"
	EventSignalOffer  = "signal-offer"
	EventSignalAnswer = "signal-answer"
	EventSignalICE    = "signal-ice"
	EventHeartbeat    = "heartbeat"

	// server -> client
	EventMemberJoined = "member-joined"
	EventMemberLeft   = "member-left"
	EventRoomDeleted  = "room-deleted"
)

// Envelope is the outbound wire frame.
type Envelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// InboundEnvelope is the inbound wire frame; Data stays raw until the event
// name selects a payload type.
type InboundEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CreateRoomRequest is the create-room payload.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password,omitempty"`
	IsPublic    bool   `json:"is_public"`
	UserName    string `json:"user_name"`
}

// JoinRoomRequest is the join-room payload. OwnerToken, when present and
// matching, lets a reconnecting owner reclaim the room.
type JoinRoomRequest struct {
	RoomID     string `json:"room_id"`
	Password   string `json:"password,omitempty"`
	UserName   string `json:"user_name"`
	OwnerToken string `json:"owner_token,omitempty"`
}

// SeekPayload is the play-seek payload.
type SeekPayload struct {
	Time float64 `json:"time"`
}

// ChatSendPayload is the client side of chat-message.
type ChatSendPayload struct {
	Content string   `json:"content"`
	Kind    ChatKind `json:"kind"`
}

// ConnectedPayload tells a fresh connection its server-assigned id, the
// heartbeat cadence it is expected to keep, and how old a stored
// ReconnectRecord may be for auto-rejoin.
type ConnectedPayload struct {
	ConnectionID        string `json:"connection_id"`
	HeartbeatIntervalMS int64  `json:"heartbeat_interval_ms"`
	ReconnectWindowMS   int64  `json:"reconnect_window_ms"`
}

// MemberPayload is the member-joined notification body.
type MemberPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsOwner bool   `json:"is_owner"`
}

// MemberLeftPayload is the member-left notification body.
type MemberLeftPayload struct {
	UserID string `json:"user_id"`
}

// Room deletion reasons sent with room-deleted.
const (
	DeleteReasonOwnerLeft    = "owner_left"
	DeleteReasonOwnerTimeout = "owner_timeout"
	DeleteReasonEmpty        = "empty"
)

// RoomDeletedPayload is the room-deleted notification body.
type RoomDeletedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ReconnectRecord is the client-side persisted credential shape accepted on
// join. The server only defines it; storage and freshness enforcement belong
// to the client.
type ReconnectRecord struct {
	RoomID     string    `json:"room_id"`
	UserName   string    `json:"user_name"`
	Password   string    `json:"password,omitempty"`
	OwnerToken string    `json:"owner_token,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Fresh reports whether the record is recent enough for auto-rejoin.
func (r ReconnectRecord) Fresh(now time.Time, window time.Duration) bool {
	if r.Timestamp.IsZero() {
		return false
	}
	return now.Sub(r.Timestamp) <= window
}
