package testutil

import (
	"sync"
	"time"
)

// FakeClock is a deterministic wall clock for tests.
//
// Time stands still until Advance or Set is called. The start time is
// truncated to milliseconds to match the store's timestamp precision.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock reading the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC().Truncate(time.Millisecond)}
}

// DefaultStart is the fixed instant used by NewDefaultFakeClock.
var DefaultStart = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// NewDefaultFakeClock creates a fake clock reading DefaultStart.
func NewDefaultFakeClock() *FakeClock {
	return NewFakeClock(DefaultStart)
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC().Truncate(time.Millisecond)
}
