// Package timeutil provides a testable abstraction over the wall clock that
// paces the tick loop.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of the coordination loop and the sinks that
// stamp records.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers the loop's pacing ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker { return wallTicker{time.NewTicker(d)} }

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// MockClock only moves when Advance is called. Tickers created from it
// fire from inside Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	created int
	pending []*mockTicker
}

// NewMockClock returns a clock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// NewTicker panics on a non-positive interval, like time.NewTicker.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{ch: make(chan time.Time, 1), every: d, due: c.now.Add(d)}
	c.created++
	c.pending = append(c.pending, t)
	return t
}

// TickerCount reports how many tickers were ever created, so a test can
// wait for a loop to start before advancing time.
func (c *MockClock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Advance moves time forward by d. Every live ticker that came due fires
// once, however many intervals were skipped; stopped tickers are dropped.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.pending[:0]
	var due []*mockTicker
	for _, t := range c.pending {
		if t.isStopped() {
			continue
		}
		live = append(live, t)
		due = append(due, t)
	}
	c.pending = live
	c.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

type mockTicker struct {
	ch    chan time.Time
	every time.Duration

	mu      sync.Mutex
	due     time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	if t.stopped || now.Before(t.due) {
		t.mu.Unlock()
		return
	}
	for !t.due.After(now) {
		t.due = t.due.Add(t.every)
	}
	t.mu.Unlock()

	// A slow consumer misses ticks rather than blocking Advance.
	select {
	case t.ch <- now:
	default:
	}
}
