package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/posync/internal/schedule"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 3 * time.Second

// Result is the outcome of one probe.
type Result struct {
	Reachable bool
	Err       error
	At        time.Time
	Latency   time.Duration
}

// Observer receives every probe result, on the monitor's goroutine.
type Observer func(ctx context.Context, r Result)

// Monitor probes on its own schedule and reports every result.
//
// Thread-safety: Check, Last and Run are safe for concurrent use.
type Monitor struct {
	probe    Probe
	clock    schedule.Clock
	interval time.Duration
	timeout  time.Duration
	observe  Observer

	mu   sync.Mutex
	last *Result
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    schedule.Clock
	Observer Observer
}

// NewMonitor creates a monitor for probe.
func NewMonitor(probe Probe, opts MonitorOptions) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = schedule.System()
	}
	if opts.Observer == nil {
		opts.Observer = func(context.Context, Result) {}
	}
	return &Monitor{
		probe:    probe,
		clock:    opts.Clock,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		observe:  opts.Observer,
	}
}

// Check runs one probe with the monitor's timeout and records the result.
// It does not notify the observer.
func (m *Monitor) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.clock.Now()
	err := m.probe.Probe(ctx)
	r := Result{Reachable: err == nil, Err: err, At: m.clock.Now()}
	r.Latency = r.At.Sub(start)

	m.mu.Lock()
	prev := m.last
	m.last = &r
	m.mu.Unlock()

	if prev == nil || prev.Reachable != r.Reachable {
		if r.Reachable {
			slog.Info("authority reachable", "latency", r.Latency)
		} else {
			slog.Warn("authority unreachable", "error", err)
		}
	}
	return r
}

// Last returns the most recent result, if any.
func (m *Monitor) Last() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	return schedule.Run(ctx, m.clock, schedule.Task{
		Name:      "connectivity",
		Interval:  m.interval,
		Immediate: true,
		Fn: func(ctx context.Context) {
			r := m.Check(ctx)
			if ctx.Err() != nil {
				return
			}
			m.observe(ctx, r)
		},
	})
}
