package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs Fn once before the first tick.
	Immediate bool
	Fn        func(ctx context.Context)
}

// Run calls t.Fn on every tick of clock until ctx is done. Fn runs on the
// calling goroutine, so a slow run delays the next one instead of
// overlapping it. Run returns nil on cancellation so it can sit in an
// errgroup next to tasks that fail for real.
func Run(ctx context.Context, clock Clock, t Task) error {
	if t.Interval <= 0 {
		slog.Debug("task disabled", "task", t.Name)
		<-ctx.Done()
		return nil
	}

	ticker := clock.NewTicker(t.Interval)
	defer ticker.Stop()

	slog.Debug("task started", "task", t.Name, "interval", t.Interval)
	if t.Immediate {
		t.Fn(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			slog.Debug("task stopped", "task", t.Name)
			return nil
		case <-ticker.C():
			if ctx.Err() != nil {
				return nil
			}
			t.Fn(ctx)
		}
	}
}
