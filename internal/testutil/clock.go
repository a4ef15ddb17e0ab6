package testutil

import (
	"sync"
	"time"

	"github.com/roach88/posync/internal/schedule"
)

// ManualClock is a schedule.Clock that only moves when Advance is called.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	added   chan struct{}
}

var _ schedule.Clock = (*ManualClock)(nil)

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, added: make(chan struct{}, 64)}
}

// Now returns the frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker registers a ticker that fires each time Advance crosses a
// multiple of d.
func (c *ManualClock) NewTicker(d time.Duration) schedule.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{clock: c, every: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	select {
	case c.added <- struct{}{}:
	default:
	}
	return t
}

// Advance moves the clock forward by d and fires due tickers. A ticker
// whose receiver is behind drops the tick, like time.Ticker.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		if t.stopped || t.next.After(c.now) {
			continue
		}
		for !t.next.After(c.now) {
			t.next = t.next.Add(t.every)
		}
		select {
		case t.ch <- c.now:
		default:
		}
	}
}

// Tickers returns the number of live tickers.
func (c *ManualClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// WaitForTickers blocks until at least n tickers are live or timeout
// passes, and reports whether they are.
func (c *ManualClock) WaitForTickers(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for c.Tickers() < n {
		select {
		case <-c.added:
		case <-deadline:
			return c.Tickers() >= n
		}
	}
	return true
}

type manualTicker struct {
	clock   *ManualClock
	every   time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
