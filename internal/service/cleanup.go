package service

import (
	"context"
	"log/slog"
	"time"
)

// CleanupScheduler drives the two timer classes of the room lifecycle: a
// recurring sweep that disbands rooms whose owner heartbeat went stale, and
// per-room cancellable grace timers that delete emptied rooms.
//
// The timers map is only ever touched while the owning RoomService holds its
// mutex (Arm/Cancel are called from event handlers, clear from the fire
// callback after it re-acquired the lock), so it needs no locking of its own.
type CleanupScheduler struct {
	log   *slog.Logger
	sched TimerScheduler

	gracePeriod time.Duration
	sweepPeriod time.Duration

	timers map[string]Timer

	// onGraceExpired re-enters the room service, which re-checks registry
	// state before deleting anything.
	onGraceExpired func(roomID string)
	onSweep        func()
}

func newCleanupScheduler(log *slog.Logger, sched TimerScheduler, gracePeriod, sweepPeriod time.Duration) *CleanupScheduler {
	return &CleanupScheduler{
		log:         log,
		sched:       sched,
		gracePeriod: gracePeriod,
		sweepPeriod: sweepPeriod,
		timers:      make(map[string]Timer),
	}
}

// ArmGrace schedules deletion of an emptied room. Arming a room that already
// has a pending timer is a programming error: the caller must cancel first.
func (c *CleanupScheduler) ArmGrace(roomID string) bool {
	if _, armed := c.timers[roomID]; armed {
		c.log.Error("grace timer already armed", slog.String("room_id", roomID))
		return false
	}
	c.timers[roomID] = c.sched.AfterFunc(c.gracePeriod, func() {
		c.onGraceExpired(roomID)
	})
	return true
}

// CancelGrace stops a pending grace timer, if any. Each arm-cycle ends in
// exactly one CancelGrace or one firing.
func (c *CleanupScheduler) CancelGrace(roomID string) bool {
	t, ok := c.timers[roomID]
	if !ok {
		return false
	}
	delete(c.timers, roomID)
	t.Stop()
	return true
}

// clearGrace drops the handle of a timer that fired.
func (c *CleanupScheduler) clearGrace(roomID string) {
	delete(c.timers, roomID)
}

// GraceArmed reports whether a deletion timer is pending for the room.
func (c *CleanupScheduler) GraceArmed(roomID string) bool {
	_, ok := c.timers[roomID]
	return ok
}

// Run performs the owner-timeout sweep every sweepPeriod until ctx is done.
// The sweep is not cancellable per room; deletion is the only thing that
// disables it for a given room.
func (c *CleanupScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepPeriod)
	defer ticker.Stop()

	c.log.Info("cleanup sweep started", slog.Duration("period", c.sweepPeriod))
	for {
		select {
		case <-ticker.C:
			c.onSweep()
		case <-ctx.Done():
			c.log.Info("cleanup sweep stopped")
			return
		}
	}
}
