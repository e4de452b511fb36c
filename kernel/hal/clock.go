package hal

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond clock.
type Clock interface {
	NowMillis() uint64
}

// MonotonicClock reports the time elapsed since it was created.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock starting at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// NowMillis implements Clock.
func (c *MonotonicClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	now atomic.Uint64
}

// NowMillis implements Clock.
func (c *ManualClock) NowMillis() uint64 {
	return c.now.Load()
}

// Advance moves the clock forward by ms milliseconds.
func (c *ManualClock) Advance(ms uint64) {
	c.now.Add(ms)
}

// Set moves the clock to ms.
func (c *ManualClock) Set(ms uint64) {
	c.now.Store(ms)
}
