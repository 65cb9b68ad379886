package chargegate

import (
	"sync"
	"time"
)

// Clock supplies the reference time for a charge, as fractional seconds since
// the Unix epoch. The value is passed into the charge script and used
// uniformly for every bucket in the batch.
//
// When no Clock is configured the Redis limiter asks the Redis server for its
// own time instead, which gives every client a single reference and protects
// against client clock drift. A caller-supplied Clock overrides that, which
// is mainly useful in tests.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() float64

// Now implements Clock.
func (f ClockFunc) Now() float64 { return f() }

// SystemClock reads the local wall clock.
func SystemClock() Clock {
	return ClockFunc(func() float64 {
		return float64(time.Now().UnixMicro()) / 1e6
	})
}

// FixedClock is a settable clock for tests. The zero value reads as time 0.
type FixedClock struct {
	mu  sync.Mutex
	now float64
}

// NewFixedClock returns a FixedClock starting at the given time.
func NewFixedClock(now float64) *FixedClock {
	return &FixedClock{now: now}
}

// Now implements Clock.
func (c *FixedClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute time. Moving backward is permitted; the
// limiter clamps negative elapsed time to zero.
func (c *FixedClock) Set(now float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward (or, with a negative delta, backward) by
// the given number of seconds.
func (c *FixedClock) Advance(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
}
