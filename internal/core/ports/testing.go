package ports

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for deterministic tests
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FixedRandom always yields the same values; handy for jitter-free tests
type FixedRandom struct {
	Value float64
	IntN  int64
}

func (r FixedRandom) Float64() float64 { return r.Value }

func (r FixedRandom) Int63n(n int64) int64 {
	if r.IntN < n {
		return r.IntN
	}
	return n - 1
}
