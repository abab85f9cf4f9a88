// Package clock abstracts time so that debounce windows and idle timers can
// be driven deterministically in tests.
//
// Production code takes a Clock and uses Real(); tests construct a
// FakeClock and move time forward with Advance.
package clock

import "time"

// Clock is the subset of the time package used by rivanna.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f after d has elapsed. The returned Timer can stop
	// or re-arm the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable, re-armable handle returned by AfterFunc.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// a pending timer.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset re-arms the timer to fire d from now. It reports whether the timer
// was pending before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop, resetFunc: t.Reset}
}
