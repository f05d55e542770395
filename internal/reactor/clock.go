package reactor

import (
	"sync"
	"time"
)

// Clock supplies monotonic elapsed time to a Reactor.
//
// Now returns the time elapsed since an arbitrary fixed epoch. It must never
// go backwards.
type Clock interface {
	Now() time.Duration
}

// monotonicClock measures elapsed time using the monotonic reading carried
// by time.Time, so wall-clock adjustments do not affect it.
type monotonicClock struct {
	epoch time.Time
}

func newMonotonicClock() monotonicClock {
	return monotonicClock{epoch: time.Now()}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// FakeClock is a manually advanced Clock for tests. Time stands still until
// Advance is called.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Duration
}

// NewFakeClock returns a FakeClock starting at the given elapsed time.
func NewFakeClock(start time.Duration) *FakeClock {
	return &FakeClock{current: start}
}

// Now returns the current fake elapsed time.
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *FakeClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.current += d
	c.mu.Unlock()
}
