// Package terminal is the operation surface of one point-of-sale terminal:
// product lookup, sale creation, stock adjustment, status and forced sync.
// It wires the mode controller, the connectivity monitor and the sync
// engine together and keeps their background tasks running.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/config"
	"github.com/roach88/posync/internal/connectivity"
	"github.com/roach88/posync/internal/engine"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/queue"
	"github.com/roach88/posync/internal/schedule"
	"github.com/roach88/posync/internal/store"
)

// Options configures a Terminal. Zero durations fall back to
// config.Default.
type Options struct {
	TerminalID  string
	Topology    mode.Topology
	PrimaryPath string
	LocalPath   string

	// AuthorityURL is dialed in the remote topology unless Authority is set.
	AuthorityURL string
	Authority    authority.Authority
	// Probe overrides the default reachability check.
	Probe connectivity.Probe
	// Passive skips the reachability check in Open, so opening never
	// waits on the authority or replays the queue. The terminal keeps its
	// starting mode until the next reachability check.
	Passive bool

	Clock schedule.Clock
	// NewID generates local ids; defaults to UUIDv7.
	NewID func() string

	ProbeInterval  time.Duration
	PullInterval   time.Duration
	PushInterval   time.Duration
	StatusInterval time.Duration
	RequestTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
	// MaxAttempts bounds submissions per operation. Zero takes the
	// default; a negative value retries forever.
	MaxAttempts int
	SearchLimit int
}

// OptionsFromConfig maps a loaded configuration onto terminal options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TerminalID:     cfg.TerminalID,
		Topology:       mode.Topology(cfg.Topology),
		PrimaryPath:    cfg.PrimaryPath,
		LocalPath:      cfg.BackupPath,
		AuthorityURL:   cfg.AuthorityURL,
		ProbeInterval:  cfg.ProbeInterval,
		PullInterval:   cfg.PullInterval,
		PushInterval:   cfg.PushInterval,
		StatusInterval: cfg.StatusInterval,
		RequestTimeout: cfg.RequestTimeout,
		Retries:        cfg.Retries,
		RetryDelay:     cfg.RetryDelay,
		MaxAttempts:    cfg.MaxAttempts,
		SearchLimit:    cfg.SearchLimit,
	}
}

func (o *Options) applyDefaults() {
	d := config.Default()
	if o.Clock == nil {
		o.Clock = schedule.System()
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if o.ProbeInterval == 0 {
		o.ProbeInterval = d.ProbeInterval
	}
	if o.PullInterval == 0 {
		o.PullInterval = d.PullInterval
	}
	if o.PushInterval == 0 {
		o.PushInterval = d.PushInterval
	}
	if o.StatusInterval == 0 {
		o.StatusInterval = d.StatusInterval
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	switch {
	case o.MaxAttempts == 0:
		o.MaxAttempts = d.MaxAttempts
	case o.MaxAttempts < 0:
		o.MaxAttempts = 0
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = d.SearchLimit
	}
}

// counts is the part of Status read from the store.
type counts struct {
	pending, failed, cacheSize int
}

// Terminal is one running point-of-sale terminal.
//
// Thread-safety: all methods are safe for concurrent use.
type Terminal struct {
	opts    Options
	ctrl    *mode.Controller
	eng     *engine.Engine
	monitor *connectivity.Monitor

	counts atomic.Pointer[counts]
}

// Open starts a terminal: it opens the initial store, loads the last sync
// time and, unless Passive is set, probes the authority once, reconnecting
// if it answers. Background tasks start only with Run.
func Open(ctx context.Context, opts Options) (*Terminal, error) {
	opts.applyDefaults()
	if opts.TerminalID == "" {
		return nil, pos.Validationf("open", "terminal id is required")
	}

	remote := opts.Authority
	endpoint := opts.AuthorityURL
	if opts.Topology == mode.Remote && remote == nil {
		c, err := authority.NewClient(authority.ClientOptions{
			BaseURL:    opts.AuthorityURL,
			Timeout:    opts.RequestTimeout,
			Retries:    opts.Retries,
			RetryDelay: opts.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		remote = c
		endpoint = c.Endpoint()
	}

	t := &Terminal{opts: opts}
	t.counts.Store(&counts{})

	ctrl, err := mode.New(mode.Options{
		Topology:    opts.Topology,
		PrimaryPath: opts.PrimaryPath,
		LocalPath:   opts.LocalPath,
		Remote:      remote,
		Endpoint:    endpoint,
		Now:         opts.Clock.Now,
		OnOnline: func(ctx context.Context) {
			t.eng.TryPull(ctx)
		},
	})
	if err != nil {
		return nil, err
	}
	t.ctrl = ctrl
	t.eng = engine.New(ctrl,
		engine.WithClock(opts.Clock),
		engine.WithIntervals(opts.PullInterval, opts.PushInterval),
		engine.WithMaxAttempts(opts.MaxAttempts))
	ctrl.SetReplayer(t.eng)

	probe := opts.Probe
	if probe == nil {
		if opts.Topology == mode.Shared {
			probe = connectivity.FileProbe{Path: opts.PrimaryPath}
		} else {
			probe = connectivity.HealthProbe{Authority: remote}
		}
	}
	t.monitor = connectivity.NewMonitor(probe, connectivity.MonitorOptions{
		Interval: opts.ProbeInterval,
		Timeout:  opts.RequestTimeout,
		Clock:    opts.Clock,
		Observer: ctrl.Observe,
	})

	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}
	if err := t.eng.Seed(ctx); err != nil {
		ctrl.Close()
		return nil, fmt.Errorf("seed sync state: %w", err)
	}
	if !opts.Passive {
		ctrl.Observe(ctx, t.monitor.Check(ctx))
	}
	t.refreshCounts(ctx)

	slog.Info("terminal opened",
		"terminal", opts.TerminalID,
		"topology", opts.Topology,
		"mode", ctrl.State().Mode)
	return t, nil
}

// ID returns the terminal id.
func (t *Terminal) ID() string {
	return t.opts.TerminalID
}

// Run keeps the monitor, the sync schedules and the status log going until
// ctx is done.
func (t *Terminal) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.monitor.Run(ctx) })
	g.Go(func() error { return t.eng.Run(ctx) })
	g.Go(func() error {
		return schedule.Run(ctx, t.opts.Clock, schedule.Task{
			Name:     "status",
			Interval: t.opts.StatusInterval,
			Fn:       t.logStatus,
		})
	})
	return g.Wait()
}

// Close stops using the stores. Run must have returned first.
func (t *Terminal) Close() error {
	return t.ctrl.Close()
}

// FindProduct looks up an active product by code or EAN in the cache.
func (t *Terminal) FindProduct(ctx context.Context, code string) (pos.Product, error) {
	if code == "" {
		return pos.Product{}, pos.Validationf("find product", "code is required")
	}
	var p pos.Product
	err := t.withFailover(ctx, "find product", func(b mode.Backend) error {
		var err error
		p, err = cache.New(b.Store).FindByCode(ctx, code)
		return err
	})
	return p, err
}

// SearchProducts returns active products whose description, code or EAN
// contains term, ignoring case and accents.
func (t *Terminal) SearchProducts(ctx context.Context, term string) ([]pos.Product, error) {
	var out []pos.Product
	err := t.withFailover(ctx, "search products", func(b mode.Backend) error {
		var err error
		out, err = cache.New(b.Store).Search(ctx, term, t.opts.SearchLimit)
		return err
	})
	return out, err
}

// GetStatus reports the terminal's state. It never waits for a transition
// and never touches the network: counts come from the local store, or from
// the last snapshot while the active store is a shared primary or a
// transition holds the lock.
func (t *Terminal) GetStatus(ctx context.Context) pos.Status {
	c := *t.counts.Load()
	ran, err := t.ctrl.TryWith(func(b mode.Backend) error {
		if b.Direct {
			return nil
		}
		fresh, err := readCounts(ctx, b.Store, b.Store)
		if err != nil {
			return err
		}
		c = fresh
		t.counts.Store(&fresh)
		return nil
	})
	if ran && err != nil {
		slog.Debug("status counts unavailable", "error", err)
	}
	return pos.Status{
		Connection:   t.ctrl.State(),
		LastSyncAt:   t.eng.LastSyncAt(),
		PendingCount: c.pending,
		FailedCount:  c.failed,
		CacheSize:    c.cacheSize,
	}
}

// ForceSync probes the authority, reconnecting first if it is back, then
// pushes everything pending and pulls the full catalog. It reports whether
// the terminal is now fully in sync.
func (t *Terminal) ForceSync(ctx context.Context) bool {
	if !t.ctrl.State().Online() {
		t.ctrl.Observe(ctx, t.monitor.Check(ctx))
	}
	ok := t.eng.ForceSync(ctx)
	t.refreshCounts(ctx)
	return ok
}

// Probe checks the authority once and applies the outcome, as the monitor
// would on its next tick.
func (t *Terminal) Probe(ctx context.Context) pos.ConnectionState {
	t.ctrl.Observe(ctx, t.monitor.Check(ctx))
	t.refreshCounts(ctx)
	return t.ctrl.State()
}

// refreshCounts recomputes the status snapshot, reading the shared primary
// if it is active.
func (t *Terminal) refreshCounts(ctx context.Context) {
	err := t.withQueueStore(ctx, func(q *store.Store, b mode.Backend) error {
		c, err := readCounts(ctx, q, b.Store)
		if err != nil {
			return err
		}
		t.counts.Store(&c)
		return nil
	})
	if err != nil {
		slog.Debug("refresh status counts", "error", err)
	}
}

// readCounts takes queue counts from q and the catalog size from catalog.
func readCounts(ctx context.Context, q, catalog *store.Store) (counts, error) {
	var c counts
	var err error
	ops := queue.New(q)
	if c.pending, err = ops.Unsynced(ctx); err != nil {
		return c, err
	}
	if c.failed, err = ops.Count(ctx, pos.StatusFailed); err != nil {
		return c, err
	}
	if c.cacheSize, err = cache.New(catalog).Count(ctx); err != nil {
		return c, err
	}
	return c, nil
}

func (t *Terminal) logStatus(ctx context.Context) {
	t.refreshCounts(ctx)
	s := t.GetStatus(ctx)
	attrs := []any{
		"mode", s.Connection.Mode,
		"pending", s.PendingCount,
		"failed", s.FailedCount,
		"cache", s.CacheSize,
	}
	if s.LastSyncAt != nil {
		attrs = append(attrs, "last_sync", s.LastSyncAt.Format(time.RFC3339))
	}
	slog.Info("terminal status", attrs...)
}

// withFailover runs fn on the active backend. If fn fails on a shared
// primary for a reason other than the request itself, the primary is
// reported broken and fn runs once more on whatever is active afterwards.
func (t *Terminal) withFailover(ctx context.Context, op string, fn func(mode.Backend) error) error {
	var direct bool
	err := t.ctrl.With(ctx, func(b mode.Backend) error {
		direct = b.Direct
		return fn(b)
	})
	if err == nil || !direct || !isStorageFailure(ctx, err) {
		return err
	}
	t.ctrl.ReportStorageFailure(ctx, err)
	if t.ctrl.State().Online() {
		return err
	}
	slog.Warn("retrying on backup store", "op", op, "error", err)
	return t.ctrl.With(ctx, fn)
}

// isStorageFailure separates a broken store from a request the store
// answered.
func isStorageFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, pos.ErrNotFound) || pos.IsValidation(err) {
		return false
	}
	return true
}
