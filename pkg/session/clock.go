package session

import "time"

// Clock is the output device clock the playback scheduler runs against.
// Now returns the elapsed time on a monotonic timeline; AfterFunc schedules
// a callback on that same timeline.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was
	// prevented from running.
	Stop() bool
}

// realClock measures elapsed wall time since construction.
type realClock struct {
	start time.Time
}

// NewRealClock returns a Clock backed by the system monotonic clock.
func NewRealClock() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
