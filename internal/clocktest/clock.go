// Package clocktest provides a manually advanced clock for deterministic
// expiry tests.
package clocktest

import (
	"sync"
	"time"
)

// Clock is a goroutine-safe fake clock. Pass Clock.Now wherever a
// func() time.Time is expected.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New returns a clock frozen at start. A zero start uses a fixed,
// second-aligned instant so token expiry math is exact.
func New(start time.Time) *Clock {
	if start.IsZero() {
		start = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
