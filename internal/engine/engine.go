package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/queue"
	"github.com/roach88/posync/internal/schedule"
)

// Defaults for Engine options.
const (
	DefaultPullInterval = 5 * time.Minute
	DefaultPushInterval = 30 * time.Second
	DefaultMaxAttempts  = 10
	DefaultBatchSize    = 100
)

// ErrOffline is wrapped in the ConnectivityFailure returned while no
// authority is reachable.
var ErrOffline = errors.New("authority not reachable")

// Backends is the part of the mode controller the engine uses.
type Backends interface {
	With(ctx context.Context, fn func(mode.Backend) error) error
	State() pos.ConnectionState
}

// Engine runs catalog pulls and queue pushes.
//
// Thread-safety: all methods are safe for concurrent use. Pulls are
// serialized with each other, and so are pushes.
type Engine struct {
	backends Backends
	clock    schedule.Clock

	pullInterval time.Duration
	pushInterval time.Duration
	maxAttempts  int
	batchSize    int

	pullMu sync.Mutex
	pushMu sync.Mutex

	lastSync atomic.Pointer[time.Time]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving schedules and queue timestamps.
func WithClock(c schedule.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIntervals sets the pull and push periods. A non-positive interval
// disables that background flow.
func WithIntervals(pull, push time.Duration) Option {
	return func(e *Engine) {
		e.pullInterval = pull
		e.pushInterval = push
	}
}

// WithMaxAttempts sets how many failed submissions move an operation to
// FAILED. Zero or less retries forever.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithBatchSize bounds the operations handled per push pass.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates an engine over backends.
func New(backends Backends, opts ...Option) *Engine {
	e := &Engine{
		backends:     backends,
		clock:        schedule.System(),
		pullInterval: DefaultPullInterval,
		pushInterval: DefaultPushInterval,
		maxAttempts:  DefaultMaxAttempts,
		batchSize:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Seed loads the last sync time from the active store so status is right
// before the first pull.
func (e *Engine) Seed(ctx context.Context) error {
	return e.backends.With(ctx, func(b mode.Backend) error {
		last, err := cache.New(b.Store).LastSyncAt(ctx)
		if err != nil {
			return err
		}
		if last != nil {
			e.noteSync(*last)
		}
		return nil
	})
}

// LastSyncAt returns the authority time of the last successful pull, or
// nil. It never blocks.
func (e *Engine) LastSyncAt() *time.Time {
	t := e.lastSync.Load()
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// noteSync advances the last sync time; it never moves backwards.
func (e *Engine) noteSync(at time.Time) {
	for {
		cur := e.lastSync.Load()
		if cur != nil && !at.After(*cur) {
			return
		}
		if e.lastSync.CompareAndSwap(cur, &at) {
			return
		}
	}
}

// ForceSync waits for any running pull or push, then pushes every pending
// operation and pulls the full catalog. It reports true only when both
// succeeded and no operation failed.
func (e *Engine) ForceSync(ctx context.Context) bool {
	e.pullMu.Lock()
	defer e.pullMu.Unlock()
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	res, pushErr := e.push(ctx)
	_, pullErr := e.pull(ctx, true)
	left, leftErr := e.unsynced(ctx)

	ok := pushErr == nil && pullErr == nil && leftErr == nil && res.Failed == 0 && left == 0
	slog.Info("forced sync finished",
		"ok", ok,
		"synced", res.Synced,
		"failed", res.Failed,
		"left", left,
		"push_error", pushErr,
		"pull_error", pullErr)
	return ok
}

// unsynced counts operations of the active store still waiting for the
// authority. A shared primary has none.
func (e *Engine) unsynced(ctx context.Context) (int, error) {
	var n int
	err := e.backends.With(ctx, func(b mode.Backend) error {
		if b.Direct {
			return nil
		}
		var err error
		n, err = queue.New(b.Store).Unsynced(ctx)
		return err
	})
	return n, err
}

// Run pulls and pushes on their intervals until ctx is done. The first
// pull happens immediately.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return schedule.Run(ctx, e.clock, schedule.Task{
			Name:      "pull",
			Interval:  e.pullInterval,
			Immediate: true,
			Fn:        func(ctx context.Context) { e.TryPull(ctx) },
		})
	})
	g.Go(func() error {
		return schedule.Run(ctx, e.clock, schedule.Task{
			Name:     "push",
			Interval: e.pushInterval,
			Fn:       func(ctx context.Context) { e.TryPush(ctx) },
		})
	})
	return g.Wait()
}

// TryPull runs an incremental pull unless one is already running or the
// terminal is offline. It reports whether a pull ran.
func (e *Engine) TryPull(ctx context.Context) bool {
	if !e.backends.State().Online() {
		return false
	}
	if !e.pullMu.TryLock() {
		slog.Debug("pull skipped, previous run still in flight")
		return false
	}
	defer e.pullMu.Unlock()
	_, _ = e.pull(ctx, false)
	return true
}

// TryPush runs a push pass unless one is already running or the terminal
// is offline. It reports whether a pass ran.
func (e *Engine) TryPush(ctx context.Context) bool {
	if !e.backends.State().Online() {
		return false
	}
	if !e.pushMu.TryLock() {
		slog.Debug("push skipped, previous run still in flight")
		return false
	}
	defer e.pushMu.Unlock()
	_, _ = e.push(ctx)
	return true
}
