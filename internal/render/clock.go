// Package render coalesces availability changes into per-frame redraws and
// maintains connector geometry between skill boxes.
package render

import (
	"slices"
	"sync"
	"time"
)

// DefaultFrameInterval approximates one display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// Clock runs a callback at the next frame boundary. The returned function
// cancels the callback if it has not fired yet.
type Clock interface {
	AfterFrame(fn func()) (cancel func())
}

// FrameClock is a timer-backed Clock.
type FrameClock struct {
	interval time.Duration
}

// NewFrameClock creates a FrameClock. A zero interval uses DefaultFrameInterval.
func NewFrameClock(interval time.Duration) *FrameClock {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &FrameClock{interval: interval}
}

// AfterFrame implements Clock.
func (c *FrameClock) AfterFrame(fn func()) func() {
	t := time.AfterFunc(c.interval, fn)
	return func() { t.Stop() }
}

// Interval returns the frame interval.
func (c *FrameClock) Interval() time.Duration { return c.interval }

// ManualClock fires frames only when Tick is called. Used in tests and by
// callers that drive frames themselves.
type ManualClock struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]func()
}

// NewManualClock creates an idle ManualClock.
func NewManualClock() *ManualClock {
	return &ManualClock{pending: make(map[uint64]func())}
}

// AfterFrame implements Clock.
func (c *ManualClock) AfterFrame(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.pending[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pending, id)
	}
}

// Pending returns how many callbacks wait for the next frame.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Tick fires every callback registered before the call, in registration
// order. Callbacks registered while ticking wait for the next Tick.
func (c *ManualClock) Tick() int {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	fns := make([]func(), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.pending[id])
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
