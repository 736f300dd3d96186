package service

import "time"

// Clock supplies the current time; injected so tests can advance virtual
// time instead of sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

// Timer is a handle to a single armed timer.
type Timer interface {
	// Stop cancels the timer; it reports false when the timer already
	// fired or was stopped before.
	Stop() bool
}

// TimerScheduler arms one-shot timers. The system implementation wraps
// time.AfterFunc; tests substitute a fake that fires on demand.
type TimerScheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemScheduler struct{}

type systemTimer struct{ t *time.Timer }

func (t systemTimer) Stop() bool { return t.t.Stop() }

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

// SystemScheduler returns the time.AfterFunc-backed scheduler.
func SystemScheduler() TimerScheduler { return systemScheduler{} }
