package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchroom/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeTimer struct {
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every armed timer that was neither stopped nor fired yet.
func (s *fakeScheduler) fire() {
	for _, t := range s.timers {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.fn()
	}
}

func (s *fakeScheduler) pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingSender struct {
	events []domain.Envelope
	full   bool
}

func (r *recordingSender) Send(ev domain.Envelope) bool {
	if r.full {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recordingSender) byEvent(name string) []domain.Envelope {
	var out []domain.Envelope
	for _, ev := range r.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc   *RoomService
	clock *fakeClock
	sched *fakeScheduler
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
	sched := &fakeScheduler{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewRoomService(log, clock, sched, Timings{
		OwnerTimeout: 90 * time.Second,
		GracePeriod:  60 * time.Second,
		SweepPeriod:  30 * time.Second,
	})
	return &fixture{svc: svc, clock: clock, sched: sched}
}

func (f *fixture) connect(connID string) *recordingSender {
	s := &recordingSender{}
	f.svc.Connect(connID, s)
	return s
}

func (f *fixture) create(t *testing.T, connID, name string) *CreateRoomResult {
	t.Helper()
	res, err := f.svc.CreateRoom(connID, domain.CreateRoomRequest{
		Name:     name,
		IsPublic: true,
		UserName: "owner-" + connID,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) join(t *testing.T, connID, roomID string) *JoinRoomResult {
	t.Helper()
	res, err := f.svc.JoinRoom(connID, domain.JoinRoomRequest{
		RoomID:   roomID,
		UserName: "user-" + connID,
	})
	require.NoError(t, err)
	return res
}

func TestCreateRoom_RejectsBlankFields(t *testing.T) {
	f := newFixture()
	f.connect("c1")

	_, err := f.svc.CreateRoom("c1", domain.CreateRoomRequest{Name: "  ", UserName: "alice"})
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = f.svc.CreateRoom("c1", domain.CreateRoomRequest{Name: "friday", UserName: ""})
	assert.ErrorIs(t, err, ErrMalformedRequest)

	assert.Empty(t, f.svc.ListRooms())
}

func TestCreateRoom_CreatorIsSoleOwningMember(t *testing.T) {
	f := newFixture()
	f.connect("c1")

	res := f.create(t, "c1", "friday")

	assert.NotEmpty(t, res.OwnerToken)
	assert.Equal(t, "c1", res.Room.OwnerID)
	assert.Equal(t, 1, res.Room.MemberCount)
	require.NoError(t, f.svc.CheckInvariants())

	// The result is a snapshot; mutating it must not reach the registry.
	res.Room.Name = "mutated"
	assert.Equal(t, "friday", f.svc.RoomSnapshot(res.Room.ID).Name)
}

func TestCreateRoom_WhileOwningDisbandsOldRoom(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	guest := f.connect("c2")

	old := f.create(t, "c1", "first")
	f.join(t, "c2", old.Room.ID)

	next := f.create(t, "c1", "second")

	assert.Nil(t, f.svc.RoomSnapshot(old.Room.ID))
	assert.NotNil(t, f.svc.RoomSnapshot(next.Room.ID))

	deleted := guest.byEvent(domain.EventRoomDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, domain.DeleteReasonOwnerLeft, deleted[0].Data.(domain.RoomDeletedPayload).Reason)
}

func TestJoinRoom_UnknownRoom(t *testing.T) {
	f := newFixture()
	f.connect("c1")

	_, err := f.svc.JoinRoom("c1", domain.JoinRoomRequest{RoomID: "missing", UserName: "bob"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoom_WrongPasswordMutatesNothing(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	f.connect("c2")

	res, err := f.svc.CreateRoom("c1", domain.CreateRoomRequest{
		Name: "private", UserName: "alice", Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = f.svc.JoinRoom("c2", domain.JoinRoomRequest{
		RoomID: res.Room.ID, UserName: "bob", Password: "wrong",
	})
	assert.ErrorIs(t, err, ErrInvalidPassword)

	snap := f.svc.RoomSnapshot(res.Room.ID)
	assert.Equal(t, 1, snap.MemberCount)
	require.NoError(t, f.svc.CheckInvariants())

	// The rejected connection stays unbound, so its events are no-ops.
	f.svc.ChatMessage("c2", "hello", domain.ChatKindText)
	assert.Equal(t, 1, f.svc.RoomSnapshot(res.Room.ID).MemberCount)
}

func TestJoinRoom_MismatchedOwnerToken(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	f.connect("c2")

	res := f.create(t, "c1", "friday")

	_, err := f.svc.JoinRoom("c2", domain.JoinRoomRequest{
		RoomID: res.Room.ID, UserName: "mallory", OwnerToken: "forged",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, f.svc.RoomSnapshot(res.Room.ID).MemberCount)
}

func TestJoinRoom_NotifiesExistingMembersOnly(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	joiner := f.connect("c2")

	res := f.create(t, "c1", "friday")
	joined := f.join(t, "c2", res.Room.ID)

	assert.Len(t, joined.Members, 2)
	assert.False(t, joined.Reclaimed)

	notices := owner.byEvent(domain.EventMemberJoined)
	require.Len(t, notices, 1)
	payload := notices[0].Data.(domain.MemberPayload)
	assert.Equal(t, "c2", payload.ID)
	assert.False(t, payload.IsOwner)

	assert.Empty(t, joiner.byEvent(domain.EventMemberJoined))
}

func TestLeaveRoom_NonOwnerNotifiesRemaining(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.LeaveRoom("c2")

	snap := f.svc.RoomSnapshot(res.Room.ID)
	assert.Equal(t, 1, snap.MemberCount)

	left := owner.byEvent(domain.EventMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].Data.(domain.MemberLeftPayload).UserID)
	require.NoError(t, f.svc.CheckInvariants())
}

func TestLeaveRoom_OwnerDisbandsAndNotifiesEachMemberOnce(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	g1 := f.connect("c2")
	g2 := f.connect("c3")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)
	f.join(t, "c3", res.Room.ID)

	f.svc.LeaveRoom("c1")

	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID))
	for _, g := range []*recordingSender{g1, g2} {
		deleted := g.byEvent(domain.EventRoomDeleted)
		require.Len(t, deleted, 1)
		assert.Equal(t, domain.DeleteReasonOwnerLeft, deleted[0].Data.(domain.RoomDeletedPayload).Reason)
	}

	// Evicted members are unbound; their follow-up events go nowhere.
	f.svc.ChatMessage("c2", "anyone here?", domain.ChatKindText)
	assert.Empty(t, g1.byEvent(domain.EventChatMessage))
}

func TestDisconnect_OwnerKeepsRoomAliveForReclaim(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.Disconnect("c1")

	snap := f.svc.RoomSnapshot(res.Room.ID)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.MemberCount)
	require.Len(t, guest.byEvent(domain.EventMemberLeft), 1)

	// The owner returns on a fresh connection with the token.
	f.connect("c9")
	rejoined, err := f.svc.JoinRoom("c9", domain.JoinRoomRequest{
		RoomID:     res.Room.ID,
		UserName:   "alice",
		OwnerToken: res.OwnerToken,
	})
	require.NoError(t, err)
	assert.True(t, rejoined.Reclaimed)
	assert.Equal(t, "c9", rejoined.Room.OwnerID)

	notices := guest.byEvent(domain.EventMemberJoined)
	require.Len(t, notices, 1)
	assert.True(t, notices[0].Data.(domain.MemberPayload).IsOwner)
	require.NoError(t, f.svc.CheckInvariants())

	// The reclaimed owner is authorized for owner-only updates again.
	f.svc.PlayUpdate("c9", domain.PlaybackState{MediaID: "m-1", Position: 10})
	require.Len(t, guest.byEvent(domain.EventPlayUpdate), 1)
}

func TestJoinRoom_ReclaimKeepsDisplacedConnectionUsable(t *testing.T) {
	f := newFixture()
	displaced := f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	// The token surfaces on a second connection while c1 is still alive.
	f.connect("c3")
	rejoined, err := f.svc.JoinRoom("c3", domain.JoinRoomRequest{
		RoomID:     res.Room.ID,
		UserName:   "alice",
		OwnerToken: res.OwnerToken,
	})
	require.NoError(t, err)
	require.True(t, rejoined.Reclaimed)

	// The remaining member hears the displaced record leave.
	left := guest.byEvent(domain.EventMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "c1", left[0].Data.(domain.MemberLeftPayload).UserID)

	// The displaced connection keeps its transport and can start over.
	fresh := f.create(t, "c1", "second")
	f.connect("c4")
	f.join(t, "c4", fresh.Room.ID)
	require.Len(t, displaced.byEvent(domain.EventMemberJoined), 1)

	f.svc.ChatMessage("c4", "hello", domain.ChatKindText)
	assert.Len(t, displaced.byEvent(domain.EventChatMessage), 1)
	require.NoError(t, f.svc.CheckInvariants())
}

func TestDisconnect_LastMemberArmsGraceTimer(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	res := f.create(t, "c1", "friday")

	f.svc.Disconnect("c1")

	require.NotNil(t, f.svc.RoomSnapshot(res.Room.ID))
	assert.True(t, f.svc.Cleanup().GraceArmed(res.Room.ID))

	f.sched.fire()

	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID))
	assert.False(t, f.svc.Cleanup().GraceArmed(res.Room.ID))
}

func TestJoinRoom_CancelsPendingGraceTimer(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	res := f.create(t, "c1", "friday")

	f.svc.Disconnect("c1")
	require.True(t, f.svc.Cleanup().GraceArmed(res.Room.ID))

	f.connect("c2")
	f.join(t, "c2", res.Room.ID)
	assert.False(t, f.svc.Cleanup().GraceArmed(res.Room.ID))

	f.sched.fire()
	assert.NotNil(t, f.svc.RoomSnapshot(res.Room.ID))
	assert.Equal(t, 0, f.sched.pending())
}

func TestSweepOnce_DeletesStaleOwnerRooms(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.clock.Advance(91 * time.Second)
	f.svc.SweepOnce()

	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID))
	deleted := guest.byEvent(domain.EventRoomDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, domain.DeleteReasonOwnerTimeout, deleted[0].Data.(domain.RoomDeletedPayload).Reason)
}

func TestSweepOnce_HeartbeatKeepsRoomAlive(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	res := f.create(t, "c1", "friday")

	f.clock.Advance(60 * time.Second)
	f.svc.Heartbeat("c1")
	f.clock.Advance(60 * time.Second)
	f.svc.SweepOnce()

	assert.NotNil(t, f.svc.RoomSnapshot(res.Room.ID))

	// Guest heartbeats do not refresh the owner clock.
	f.connect("c2")
	f.join(t, "c2", res.Room.ID)
	f.clock.Advance(91 * time.Second)
	f.svc.Heartbeat("c2")
	f.svc.SweepOnce()

	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID))
}

func TestPlayUpdate_OwnerOnly(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.PlayUpdate("c2", domain.PlaybackState{MediaID: "hijack", Position: 99})
	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID).CurrentState)
	assert.Empty(t, owner.byEvent(domain.EventPlayUpdate))

	f.svc.PlayUpdate("c1", domain.PlaybackState{MediaID: "m-1", Position: 12.5})

	snap := f.svc.RoomSnapshot(res.Room.ID)
	require.NotNil(t, snap.CurrentState)
	assert.Equal(t, domain.StateTypePlay, snap.CurrentState.Type)
	assert.Equal(t, 12.5, snap.CurrentState.Play.Position)

	require.Len(t, guest.byEvent(domain.EventPlayUpdate), 1)
	assert.Empty(t, owner.byEvent(domain.EventPlayUpdate))
}

func TestPlaySeek_AnyMemberRelaysWithoutState(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.PlaySeek("c2", 33)

	require.Len(t, owner.byEvent(domain.EventPlaySeek), 1)
	assert.Equal(t, 33.0, owner.byEvent(domain.EventPlaySeek)[0].Data.(domain.SeekPayload).Time)
	assert.Empty(t, guest.byEvent(domain.EventPlaySeek))
	assert.Nil(t, f.svc.RoomSnapshot(res.Room.ID).CurrentState)

	f.svc.PlayPause("c2")
	f.svc.PlayPlay("c2")
	assert.Len(t, owner.byEvent(domain.EventPlayPause), 1)
	assert.Len(t, owner.byEvent(domain.EventPlayPlay), 1)
}

func TestLiveChange_ReplacesPlaybackState(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.PlayChange("c1", domain.PlaybackState{MediaID: "m-1"})
	f.svc.LiveChange("c1", domain.ChannelState{ChannelID: "news-24"})

	snap := f.svc.RoomSnapshot(res.Room.ID)
	require.NotNil(t, snap.CurrentState)
	assert.Equal(t, domain.StateTypeLive, snap.CurrentState.Type)
	assert.Nil(t, snap.CurrentState.Play)
	assert.Equal(t, "news-24", snap.CurrentState.Live.ChannelID)

	// Guests cannot switch the channel.
	f.svc.LiveChange("c2", domain.ChannelState{ChannelID: "other"})
	assert.Equal(t, "news-24", f.svc.RoomSnapshot(res.Room.ID).CurrentState.Live.ChannelID)

	require.Len(t, guest.byEvent(domain.EventPlayChange), 1)
	require.Len(t, guest.byEvent(domain.EventLiveChange), 1)
}

func TestChatMessage_BroadcastIncludesSender(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	guest := f.connect("c2")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.ChatMessage("c2", "  hello all  ", domain.ChatKindText)

	for _, r := range []*recordingSender{owner, guest} {
		msgs := r.byEvent(domain.EventChatMessage)
		require.Len(t, msgs, 1)
		msg := msgs[0].Data.(domain.ChatMessage)
		assert.Equal(t, "hello all", msg.Content)
		assert.Equal(t, "c2", msg.SenderID)
		assert.Equal(t, "user-c2", msg.SenderName)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestChatMessage_TimestampsNeverRegress(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	f.create(t, "c1", "friday")

	f.svc.ChatMessage("c1", "first", domain.ChatKindText)
	f.clock.Advance(-5 * time.Second)
	f.svc.ChatMessage("c1", "second", domain.ChatKindText)
	f.clock.Advance(10 * time.Second)
	f.svc.ChatMessage("c1", "third", domain.ChatKindEmoji)

	msgs := owner.byEvent(domain.EventChatMessage)
	require.Len(t, msgs, 3)
	var prev time.Time
	for _, ev := range msgs {
		ts := ev.Data.(domain.ChatMessage).Timestamp
		assert.False(t, ts.Before(prev))
		prev = ts
	}
}

func TestChatMessage_DropsInvalidPayloads(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	f.create(t, "c1", "friday")

	f.svc.ChatMessage("c1", "   ", domain.ChatKindText)
	f.svc.ChatMessage("c1", "hi", domain.ChatKind("gif"))
	f.svc.ChatMessage("unbound", "hi", domain.ChatKindText)

	assert.Empty(t, owner.byEvent(domain.EventChatMessage))

	// An omitted kind defaults to text.
	f.svc.ChatMessage("c1", "hi", "")
	msgs := owner.byEvent(domain.EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ChatKindText, msgs[0].Data.(domain.ChatMessage).Kind)
}

func TestSignal_DeliversToTargetOnly(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	guest := f.connect("c2")
	bystander := f.connect("c3")

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)
	f.join(t, "c3", res.Room.ID)

	f.svc.Signal("c2", domain.EventSignalOffer, domain.SignalMessage{
		Type:     domain.SignalOffer,
		TargetID: "c1",
		SenderID: "spoofed",
	})

	offers := owner.byEvent(domain.EventSignalOffer)
	require.Len(t, offers, 1)
	// The sender id comes from the connection index, not the payload.
	assert.Equal(t, "c2", offers[0].Data.(domain.SignalMessage).SenderID)
	assert.Empty(t, guest.byEvent(domain.EventSignalOffer))
	assert.Empty(t, bystander.byEvent(domain.EventSignalOffer))
}

func TestSignal_TargetMustShareRoom(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	outsider := f.connect("c2")

	f.create(t, "c1", "friday")
	f.create(t, "c2", "other")

	f.svc.Signal("c1", domain.EventSignalICE, domain.SignalMessage{TargetID: "c2"})
	assert.Empty(t, outsider.byEvent(domain.EventSignalICE))

	f.svc.Signal("c1", domain.EventSignalICE, domain.SignalMessage{TargetID: ""})
	f.svc.Signal("unbound", domain.EventSignalICE, domain.SignalMessage{TargetID: "c1"})
}

func TestJoinRoom_SwitchingRoomsLeavesFirst(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	f.connect("c2")
	guest := f.connect("c3")

	a := f.create(t, "c1", "room-a")
	b := f.create(t, "c2", "room-b")
	f.join(t, "c3", a.Room.ID)

	f.join(t, "c3", b.Room.ID)

	assert.Equal(t, 1, f.svc.RoomSnapshot(a.Room.ID).MemberCount)
	assert.Equal(t, 2, f.svc.RoomSnapshot(b.Room.ID).MemberCount)
	require.NoError(t, f.svc.CheckInvariants())

	// Chat lands in the new room only.
	f.svc.ChatMessage("c3", "made it", domain.ChatKindText)
	require.Len(t, guest.byEvent(domain.EventChatMessage), 1)
}

func TestUnboundConnectionEventsAreNoops(t *testing.T) {
	f := newFixture()
	f.connect("c1")

	f.svc.LeaveRoom("c1")
	f.svc.Heartbeat("c1")
	f.svc.PlayUpdate("c1", domain.PlaybackState{})
	f.svc.PlaySeek("c1", 1)
	f.svc.Disconnect("c1")

	require.NoError(t, f.svc.CheckInvariants())
	assert.Empty(t, f.svc.ListRooms())
}

func TestSendTo_FullQueueDropsSilently(t *testing.T) {
	f := newFixture()
	owner := f.connect("c1")
	guest := f.connect("c2")
	guest.full = true

	res := f.create(t, "c1", "friday")
	f.join(t, "c2", res.Room.ID)

	f.svc.ChatMessage("c1", "hello", domain.ChatKindText)

	// The slow guest misses the frame; everyone else still gets it.
	assert.Empty(t, guest.events)
	require.Len(t, owner.byEvent(domain.EventChatMessage), 1)
	assert.Equal(t, 2, f.svc.RoomSnapshot(res.Room.ID).MemberCount)
}

func TestListRooms_PublicOnlySnapshots(t *testing.T) {
	f := newFixture()
	f.connect("c1")
	f.connect("c2")

	pub := f.create(t, "c1", "public")
	_, err := f.svc.CreateRoom("c2", domain.CreateRoomRequest{
		Name: "hidden", UserName: "bob", IsPublic: false,
	})
	require.NoError(t, err)

	listed := f.svc.ListRooms()
	require.Len(t, listed, 1)
	assert.Equal(t, pub.Room.ID, listed[0].ID)
}
