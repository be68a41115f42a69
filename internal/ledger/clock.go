package ledger

import (
	"sync"
	"time"
)

// Clock supplies the current height. Implementations must be monotonically
// non-decreasing; the ledger never advances the clock itself.
type Clock interface {
	Height() Height
}

// ManualClock is an explicitly advanced clock for tests and simulations.
type ManualClock struct {
	mu sync.Mutex
	h  Height
}

// NewManualClock starts a clock at the given height.
func NewManualClock(start Height) *ManualClock {
	return &ManualClock{h: start}
}

func (c *ManualClock) Height() Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

// Advance moves the clock forward by n heights.
func (c *ManualClock) Advance(n Height) {
	c.mu.Lock()
	c.h += n
	c.mu.Unlock()
}

// EpochClock derives a height from wall time: one height per interval since
// genesis. It is the runtime adapter at the process edge; the guard against a
// stepping-back system clock keeps the reported height non-decreasing.
type EpochClock struct {
	genesis  time.Time
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last Height
}

// NewEpochClock creates a wall-time backed clock. Interval values below one
// second are clamped to one second.
func NewEpochClock(genesis time.Time, interval time.Duration) *EpochClock {
	if interval < time.Second {
		interval = time.Second
	}
	return &EpochClock{
		genesis:  genesis.UTC(),
		interval: interval,
		now:      time.Now,
	}
}

func (c *EpochClock) Height() Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.now().UTC().Sub(c.genesis)
	if elapsed < 0 {
		return c.last
	}
	h := Height(elapsed / c.interval)
	if h < c.last {
		return c.last
	}
	c.last = h
	return h
}
