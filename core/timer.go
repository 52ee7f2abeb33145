package core

import "time"

// Clock is the time base of the scheduler. Times are offsets from an
// arbitrary, monotonic origin.
type Clock interface {
	Now() time.Duration
	SleepUntil(t time.Duration)
}

// DefaultSpinWindow is how long before a deadline MonotonicClock stops
// sleeping and busy-waits. OS timer slack is usually larger than a
// 100 µs control period.
const DefaultSpinWindow = 80 * time.Microsecond

// MonotonicClock reads the runtime monotonic clock.
type MonotonicClock struct {
	origin time.Time
	spin   time.Duration
}

// NewMonotonicClock returns a clock starting at zero now. spin is the busy-wait
// window before each deadline; zero always sleeps.
func NewMonotonicClock(spin time.Duration) *MonotonicClock {
	return &MonotonicClock{origin: time.Now(), spin: spin}
}

// Now returns the time since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// SleepUntil sleeps, then spins for the last part of the interval.
func (c *MonotonicClock) SleepUntil(t time.Duration) {
	remaining := t - c.Now()
	if remaining <= 0 {
		return
	}
	if remaining > c.spin {
		time.Sleep(remaining - c.spin)
	}
	for c.Now() < t {
	}
}

// ManualClock is a Clock advanced by hand. SleepUntil jumps straight to the
// deadline, which makes scheduling deterministic in tests and simulations.
type ManualClock struct {
	now time.Duration
}

func (c *ManualClock) Now() time.Duration {
	return c.now
}

func (c *ManualClock) SleepUntil(t time.Duration) {
	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.now += d
}

// TimerFromUS converts microseconds to a clock duration
func TimerFromUS(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// TimerToUS converts a clock duration to whole microseconds
func TimerToUS(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}
