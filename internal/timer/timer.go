// Package timer provides the one-shot timers used by the MAC layer. The
// timer callbacks are expected to only signal the MAC event loop.
package timer

import (
	"sync"
	"time"
)

// Timer defines a one-shot timer.
type Timer interface {
	// Start (re)starts the timer with the given timeout.
	Start(d time.Duration)

	// Stop stops the timer.
	Stop()

	// Active returns true when the timer is started and not yet expired.
	Active() bool
}

// Clock defines the time source and timer factory.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a stopped timer, calling f on expiry.
	NewTimer(f func()) Timer
}

// Real implements Clock using the system time.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// NewTimer returns a new timer backed by time.AfterFunc.
func (Real) NewTimer(f func()) Timer {
	return &realTimer{f: f}
}

type realTimer struct {
	mu     sync.Mutex
	f      func()
	t      *time.Timer
	seq    uint64
	active bool
}

func (t *realTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.seq++
	seq := t.seq
	t.active = true
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		if seq != t.seq || !t.active {
			t.mu.Unlock()
			return
		}
		t.active = false
		t.mu.Unlock()
		t.f()
	})
}

func (t *realTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.active = false
}

func (t *realTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
