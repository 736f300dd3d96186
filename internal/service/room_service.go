package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"watchroom/internal/domain"
	"watchroom/internal/registry"
)

const maxChatMessageLength = 4000

// Sender delivers one outbound envelope to a connection. Send must not
// block; it reports false when the frame was dropped.
type Sender interface {
	Send(ev domain.Envelope) bool
}

// Timings holds the room lifecycle knobs.
type Timings struct {
	OwnerTimeout time.Duration
	GracePeriod  time.Duration
	SweepPeriod  time.Duration
}

// CreateRoomResult is the reply to a create-room request. OwnerToken is
// handed out here, once, and never again.
type CreateRoomResult struct {
	Room       *domain.Room
	OwnerToken string
}

// JoinRoomResult is the reply to a join-room request.
type JoinRoomResult struct {
	Room      *domain.Room
	Members   []*domain.Member
	Reclaimed bool
}

// RoomService is the connection-event dispatcher: it resolves identity via
// the connection index, applies the authorization table, mutates the room
// registry and relays events to the right connections.
//
// One mutex serializes every event handler, timer callback and sweep pass;
// RoomRegistry and ConnectionIndex are plain data reached only through it.
type RoomService struct {
	mu      sync.Mutex
	rooms   *registry.RoomRegistry
	conns   *registry.ConnectionIndex
	senders map[string]Sender
	cleanup *CleanupScheduler
	clock   Clock
	timings Timings
	log     *slog.Logger
}

func NewRoomService(log *slog.Logger, clock Clock, sched TimerScheduler, timings Timings) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	s := &RoomService{
		rooms:   registry.NewRoomRegistry(),
		conns:   registry.NewConnectionIndex(),
		senders: make(map[string]Sender),
		clock:   clock,
		timings: timings,
		log:     log,
	}
	s.cleanup = newCleanupScheduler(log, sched, timings.GracePeriod, timings.SweepPeriod)
	s.cleanup.onGraceExpired = s.expireEmptyRoom
	s.cleanup.onSweep = s.SweepOnce
	return s
}

// Cleanup exposes the scheduler so main can run the sweep loop.
func (s *RoomService) Cleanup() *CleanupScheduler { return s.cleanup }

// Connect attaches the outbound sender for a fresh connection. No room
// binding exists yet.
func (s *RoomService) Connect(connID string, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[connID] = sender
}

// Disconnect handles a lost connection and detaches its sender. Unlike an
// explicit leave, losing the owner's transport does not disband the room:
// the membership is dropped, an emptied room gets its grace timer, and the
// owner may reclaim with the token until the heartbeat sweep gives up.
func (s *RoomService) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departLocked(connID, false)
	delete(s.senders, connID)
}

// CreateRoom registers a new room with the caller as its sole, owning
// member.
func (s *RoomService) CreateRoom(connID string, req domain.CreateRoomRequest) (*CreateRoomResult, error) {
	const op = "service.room.create"

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.UserName) == "" {
		return nil, ErrMalformedRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A connection still bound elsewhere leaves that room first.
	if _, bound := s.conns.Lookup(connID); bound {
		s.leaveLocked(connID)
	}

	room := s.rooms.Create(registry.CreateSpec{
		Name:        req.Name,
		Description: req.Description,
		Password:    req.Password,
		IsPublic:    req.IsPublic,
		OwnerConnID: connID,
		OwnerName:   req.UserName,
		Now:         s.clock.Now(),
	})
	s.conns.Bind(connID, registry.Binding{
		RoomID:   room.ID,
		UserID:   connID,
		UserName: req.UserName,
		IsOwner:  true,
	})

	s.log.Info("room created",
		slog.String("op", op),
		slog.String("room_id", room.ID),
		slog.String("owner", req.UserName),
		slog.Bool("public", room.IsPublic),
	)

	return &CreateRoomResult{Room: room.Clone(), OwnerToken: room.OwnerToken}, nil
}

// JoinRoom adds the caller to a room, optionally reclaiming ownership with
// the owner token, and notifies the existing members.
func (s *RoomService) JoinRoom(connID string, req domain.JoinRoomRequest) (*JoinRoomResult, error) {
	const op = "service.room.join"

	if req.RoomID == "" || strings.TrimSpace(req.UserName) == "" {
		return nil, ErrMalformedRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms.Get(req.RoomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.HasPassword() && req.Password != room.Password {
		return nil, ErrInvalidPassword
	}
	reclaim := false
	if req.OwnerToken != "" {
		if req.OwnerToken != room.OwnerToken {
			return nil, ErrUnauthorized
		}
		reclaim = true
	}

	if b, bound := s.conns.Lookup(connID); bound && b.RoomID != req.RoomID {
		s.leaveLocked(connID)
		// The old room may have been the one we are joining under a
		// different id; re-fetch to stay honest about current state.
		if room = s.rooms.Get(req.RoomID); room == nil {
			return nil, ErrRoomNotFound
		}
	}

	now := s.clock.Now()
	if reclaim && room.OwnerID != connID {
		// Drop the stale owner record and its binding. The sender stays
		// attached: only Disconnect detaches senders, and the displaced
		// connection may still be alive and move on to another room.
		if old := s.rooms.RemoveMember(room.ID, room.OwnerID); old != nil {
			s.conns.Unbind(old.ID)
			s.broadcastAll(room, domain.Envelope{
				Event: domain.EventMemberLeft,
				Data:  domain.MemberLeftPayload{UserID: old.ID},
			})
		}
		room.OwnerID = connID
	}
	if reclaim {
		room.LastOwnerHeartbeat = now
	}

	member := &domain.Member{
		ID:            connID,
		Name:          req.UserName,
		IsOwner:       reclaim || room.OwnerID == connID,
		JoinedAt:      now,
		LastHeartbeat: now,
	}
	s.rooms.AddMember(room.ID, member)
	s.conns.Bind(connID, registry.Binding{
		RoomID:   room.ID,
		UserID:   connID,
		UserName: req.UserName,
		IsOwner:  member.IsOwner,
	})

	// Any pending empty-room deletion is void the moment someone joins.
	s.cleanup.CancelGrace(room.ID)

	s.broadcastExcept(room, connID, domain.Envelope{
		Event: domain.EventMemberJoined,
		Data: domain.MemberPayload{
			ID:      member.ID,
			Name:    member.Name,
			IsOwner: member.IsOwner,
		},
	})

	s.log.Info("member joined",
		slog.String("op", op),
		slog.String("room_id", room.ID),
		slog.String("user", req.UserName),
		slog.Bool("reclaimed", reclaim),
		slog.Int("members", room.MemberCount),
	)

	snapshot := room.Clone()
	members := make([]*domain.Member, 0, len(snapshot.Members))
	for _, m := range snapshot.Members {
		members = append(members, m)
	}
	return &JoinRoomResult{Room: snapshot, Members: members, Reclaimed: reclaim}, nil
}

// LeaveRoom handles an explicit leave-room event.
func (s *RoomService) LeaveRoom(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(connID)
}

// ListRooms returns snapshots of the public rooms.
func (s *RoomService) ListRooms() []*domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := s.rooms.ListPublic()
	out := make([]*domain.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Clone())
	}
	return out
}

// RoomSnapshot returns a copy of one room, or nil when absent.
func (s *RoomService) RoomSnapshot(roomID string) *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Get(roomID).Clone()
}

// PlayUpdate stores and relays an authoritative playback position. Position
// updates are owner-only so a room full of clients echoing their own clocks
// cannot fight over the canonical state.
func (s *RoomService) PlayUpdate(connID string, st domain.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil || room.OwnerID != b.UserID {
		return
	}
	s.rooms.SetState(room.ID, domain.PlayState(st))
	s.broadcastExcept(room, connID, domain.Envelope{Event: domain.EventPlayUpdate, Data: st})
}

// PlaySeek relays a seek command from any member. No state is stored: the
// next owner position update is still the authority.
func (s *RoomService) PlaySeek(connID string, seconds float64) {
	s.relayFromMember(connID, domain.EventPlaySeek, domain.SeekPayload{Time: seconds})
}

// PlayPlay relays a resume command from any member.
func (s *RoomService) PlayPlay(connID string) {
	s.relayFromMember(connID, domain.EventPlayPlay, nil)
}

// PlayPause relays a pause command from any member.
func (s *RoomService) PlayPause(connID string) {
	s.relayFromMember(connID, domain.EventPlayPause, nil)
}

// PlayChange switches the room to a new video-on-demand state; owner only.
func (s *RoomService) PlayChange(connID string, st domain.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil || room.OwnerID != b.UserID {
		return
	}
	s.rooms.SetState(room.ID, domain.PlayState(st))
	s.broadcastExcept(room, connID, domain.Envelope{Event: domain.EventPlayChange, Data: st})
}

// LiveChange switches the room to a live channel; owner only.
func (s *RoomService) LiveChange(connID string, st domain.ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil || room.OwnerID != b.UserID {
		return
	}
	s.rooms.SetState(room.ID, domain.LiveState(st))
	s.broadcastExcept(room, connID, domain.Envelope{Event: domain.EventLiveChange, Data: st})
}

// ChatMessage stamps a chat payload with a server id and timestamp and
// broadcasts it to the whole room, sender included.
func (s *RoomService) ChatMessage(connID string, content string, kind domain.ChatKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil {
		return
	}
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxChatMessageLength {
		return
	}
	switch kind {
	case domain.ChatKindText, domain.ChatKindEmoji:
	case "":
		kind = domain.ChatKindText
	default:
		return
	}

	// Timestamps order the feed; never let them run backwards within a
	// room even if the clock does.
	now := s.clock.Now()
	if now.Before(room.LastChatAt) {
		now = room.LastChatAt
	}
	room.LastChatAt = now

	msg := domain.ChatMessage{
		ID:         registry.NewMessageID(),
		SenderID:   b.UserID,
		SenderName: b.UserName,
		Content:    content,
		Kind:       kind,
		Timestamp:  now,
	}
	s.broadcastAll(room, domain.Envelope{Event: domain.EventChatMessage, Data: msg})
}

// Signal forwards a signaling payload verbatim to the single target
// connection, stamped with the sender id resolved from the connection index.
func (s *RoomService) Signal(connID string, event string, msg domain.SignalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil || msg.TargetID == "" {
		return
	}
	target, ok := s.conns.Lookup(msg.TargetID)
	if !ok || target.RoomID != room.ID {
		return
	}
	msg.SenderID = b.UserID
	s.sendTo(msg.TargetID, domain.Envelope{Event: event, Data: msg})
}

// Heartbeat refreshes the member liveness clock and, for the owner, the
// room's staleness clock that the sweep checks.
func (s *RoomService) Heartbeat(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, room := s.resolve(connID)
	if room == nil {
		return
	}
	now := s.clock.Now()
	if m := room.Members[connID]; m != nil {
		m.Touch(now)
	}
	if room.OwnerID == b.UserID {
		room.LastOwnerHeartbeat = now
	}
}

// SweepOnce deletes every room whose owner heartbeat went stale. It runs on
// the recurring sweep but is also callable directly, which is how tests
// advance virtual time.
func (s *RoomService) SweepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, room := range s.rooms.All() {
		if now.Sub(room.LastOwnerHeartbeat) <= s.timings.OwnerTimeout {
			continue
		}
		s.log.Info("owner heartbeat stale, disbanding",
			slog.String("room_id", room.ID),
			slog.Time("last_heartbeat", room.LastOwnerHeartbeat),
		)
		s.deleteRoomLocked(room, domain.DeleteReasonOwnerTimeout)
	}
}

// expireEmptyRoom is the grace-timer callback. The room may have been
// rejoined or deleted since the timer was armed, so state is re-checked
// under the lock.
func (s *RoomService) expireEmptyRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanup.clearGrace(roomID)
	room := s.rooms.Get(roomID)
	if room == nil || room.MemberCount != 0 {
		return
	}
	s.log.Info("grace period expired, deleting empty room", slog.String("room_id", roomID))
	// Nobody is left to hear it, but the notice is sent through the same
	// path for consistency.
	s.deleteRoomLocked(room, domain.DeleteReasonEmpty)
}

// leaveLocked handles an active departure; the owner actively leaving
// disbands the room. Caller holds s.mu.
func (s *RoomService) leaveLocked(connID string) {
	s.departLocked(connID, true)
}

// departLocked is the leave/disconnect state machine. disband selects the
// owner-departure behavior: an active leave disbands immediately, a dropped
// transport keeps the room alive for a token reclaim. Caller holds s.mu.
func (s *RoomService) departLocked(connID string, disband bool) {
	b, ok := s.conns.Lookup(connID)
	if !ok {
		return
	}
	s.conns.Unbind(connID)

	room := s.rooms.Get(b.RoomID)
	if room == nil {
		return
	}

	if disband && room.OwnerID == connID {
		s.rooms.RemoveMember(room.ID, connID)
		s.deleteRoomLocked(room, domain.DeleteReasonOwnerLeft)
		return
	}

	if s.rooms.RemoveMember(room.ID, connID) == nil {
		return
	}
	if room.MemberCount > 0 {
		s.broadcastAll(room, domain.Envelope{
			Event: domain.EventMemberLeft,
			Data:  domain.MemberLeftPayload{UserID: connID},
		})
		return
	}
	if !s.cleanup.ArmGrace(room.ID) {
		s.log.Error("room emptied with grace timer already pending", slog.String("room_id", room.ID))
	}
}

// deleteRoomLocked broadcasts the deletion notice to the remaining members,
// evicts their bindings and removes the room. Caller holds s.mu.
func (s *RoomService) deleteRoomLocked(room *domain.Room, reason string) {
	s.broadcastAll(room, domain.Envelope{
		Event: domain.EventRoomDeleted,
		Data:  domain.RoomDeletedPayload{Reason: reason},
	})
	for id := range room.Members {
		s.conns.Unbind(id)
	}
	s.rooms.Delete(room.ID)
	s.cleanup.CancelGrace(room.ID)

	s.log.Info("room deleted",
		slog.String("room_id", room.ID),
		slog.String("reason", reason),
	)
}

// resolve maps a connection to its binding and current room. Events from
// unbound connections are no-ops: the sender already left or was never
// valid, and payload fields are never trusted instead.
func (s *RoomService) resolve(connID string) (registry.Binding, *domain.Room) {
	b, ok := s.conns.Lookup(connID)
	if !ok {
		return registry.Binding{}, nil
	}
	return b, s.rooms.Get(b.RoomID)
}

func (s *RoomService) relayFromMember(connID, event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, room := s.resolve(connID)
	if room == nil {
		return
	}
	s.broadcastExcept(room, connID, domain.Envelope{Event: event, Data: data})
}

func (s *RoomService) broadcastExcept(room *domain.Room, exclude string, ev domain.Envelope) {
	for id := range room.Members {
		if id == exclude {
			continue
		}
		s.sendTo(id, ev)
	}
}

func (s *RoomService) broadcastAll(room *domain.Room, ev domain.Envelope) {
	for id := range room.Members {
		s.sendTo(id, ev)
	}
}

func (s *RoomService) sendTo(connID string, ev domain.Envelope) {
	sender := s.senders[connID]
	if sender == nil {
		return
	}
	if !sender.Send(ev) {
		s.log.Debug("dropping outbound event",
			slog.String("conn_id", connID),
			slog.String("event", ev.Event),
		)
	}
}

// CheckInvariants is a test hook into the registry invariants.
func (s *RoomService) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.CheckInvariants()
}
