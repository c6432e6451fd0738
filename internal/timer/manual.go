package timer

import (
	"time"
)

// Manual implements a Clock which only advances when Advance is called. It
// is used for deterministic tests and is not safe for concurrent use.
type Manual struct {
	now    time.Time
	timers []*manualTimer
}

// NewManual returns a manual clock set to the given time.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

// Now returns the current time of the clock.
func (m *Manual) Now() time.Time {
	return m.now
}

// NewTimer returns a new timer driven by the clock.
func (m *Manual) NewTimer(f func()) Timer {
	t := &manualTimer{clock: m, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d. The timers expiring within d are
// fired in order of their deadline, with the clock set to the deadline.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)

	for {
		next := m.next(target)
		if next == nil {
			break
		}
		m.now = next.deadline
		next.active = false
		next.f()
	}

	m.now = target
}

// NextDeadline returns the time until the first active timer expires.
func (m *Manual) NextDeadline() (time.Duration, bool) {
	next := m.next(time.Time{})
	if next == nil {
		return 0, false
	}
	return next.deadline.Sub(m.now), true
}

// next returns the active timer with the earliest deadline, not after
// the (non-zero) limit.
func (m *Manual) next(limit time.Time) *manualTimer {
	var out *manualTimer
	for _, t := range m.timers {
		if !t.active {
			continue
		}
		if !limit.IsZero() && t.deadline.After(limit) {
			continue
		}
		if out == nil || t.deadline.Before(out.deadline) {
			out = t
		}
	}
	return out
}

type manualTimer struct {
	clock    *Manual
	f        func()
	deadline time.Time
	active   bool
}

func (t *manualTimer) Start(d time.Duration) {
	t.deadline = t.clock.now.Add(d)
	t.active = true
}

func (t *manualTimer) Stop() {
	t.active = false
}

func (t *manualTimer) Active() bool {
	return t.active
}
