// Package clock abstracts the wall clock so the node loop can be driven
// deterministically in tests. Production code uses Real(); tests use Fake().
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer returns a Timer that fires once after d. A non-positive d
	// fires immediately.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. C has capacity 1.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// a pending timer.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns the system clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
