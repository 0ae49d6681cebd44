// Package clock provides an injectable time source so the polling
// scheduler and the connectivity monitor can be driven deterministically
// in tests.
//
// Production code takes a Clock and uses Real(); tests use Fake() and
// move time forward with Advance. WaitForTimers blocks until a goroutine
// has armed its timer, which removes the race between arming and
// advancing.
package clock

import "time"

// Clock abstracts the time operations used by long-running loops.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a one-shot Timer that delivers on C after d.
	// A non-positive d fires immediately.
	NewTimer(d time.Duration) *Timer

	// After is shorthand for NewTimer(d).C.
	After(d time.Duration) <-chan time.Time
}

// Timer is a one-shot timer. Read the fire time from C.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns false if the timer
// already fired or was stopped. Stop does not drain C.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stopFunc: t.Stop}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
