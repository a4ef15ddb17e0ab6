// Package mode owns the terminal's connectivity state and decides which
// store is active. Everything that touches a store goes through With, so a
// transition never swaps the store out from under a running operation.
//
// Two topologies are supported. In the shared topology the authority is a
// SQLite file on a network share: while ONLINE the terminal writes straight
// into it, while OFFLINE it writes into a local backup file and queues the
// writes for replay. In the remote topology the terminal always writes into
// its local store and the mode only says whether the HTTP authority can be
// reached.
package mode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/connectivity"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/queue"
	"github.com/roach88/posync/internal/store"
)

// Topology selects where the authority lives.
type Topology string

const (
	Shared Topology = "shared"
	Remote Topology = "remote"
)

var (
	// ErrClosed is returned by With after Close.
	ErrClosed = errors.New("mode controller closed")

	// ErrNoBackup is returned by operations that need the backup store
	// while the shared primary is active and the backup failed to open.
	ErrNoBackup = errors.New("backup store not open")
)

// Backend is the view an operation gets of the active store.
type Backend struct {
	// Store is the only store operations may read or write.
	Store *store.Store
	// Direct is true when Store is the authority itself, so writes need no
	// queueing.
	Direct bool
	// Authority is the sync target, nil while OFFLINE.
	Authority authority.Authority
	// Mirror is the backup store while Direct: it receives catalog
	// refreshes and keeps the queue of operations written while offline.
	// The controller owns it; nil when the backup could not be opened.
	Mirror *store.Store
}

// Replayer pushes every pending operation of from to the authority. It
// fails if anything is left pending.
type Replayer interface {
	Replay(ctx context.Context, from *store.Store, to authority.Authority) error
}

// Options configures a Controller.
type Options struct {
	Topology Topology
	// PrimaryPath is the shared database file (shared topology).
	PrimaryPath string
	// LocalPath is the backup file (shared) or the only store (remote).
	LocalPath string
	// Remote is the HTTP authority (remote topology).
	Remote authority.Authority
	// Endpoint names the authority in ConnectionState.
	Endpoint string
	// Now defaults to time.Now.
	Now func() time.Time
	// OnOnline runs after every successful GoOnline, outside the lock.
	OnOnline func(ctx context.Context)
}

// Controller is the ONLINE / OFFLINE / RECONNECTING state machine.
//
// Thread-safety: all methods are safe for concurrent use. Transitions take
// the access lock exclusively; sync.RWMutex gives a waiting writer priority
// over new readers, so a transition is not starved by a stream of sales.
type Controller struct {
	opts     Options
	replayer Replayer

	access  sync.RWMutex
	backend Backend // guarded by access
	closed  bool    // guarded by access

	state  atomic.Pointer[pos.ConnectionState]
	flight singleflight.Group
}

// New creates a controller. Start must be called before use.
func New(opts Options) (*Controller, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	switch opts.Topology {
	case Shared:
		if opts.PrimaryPath == "" || opts.LocalPath == "" {
			return nil, pos.Validationf("mode", "shared topology needs primary and backup paths")
		}
		if opts.Endpoint == "" {
			opts.Endpoint = opts.PrimaryPath
		}
	case Remote:
		if opts.Remote == nil || opts.LocalPath == "" {
			return nil, pos.Validationf("mode", "remote topology needs an authority and a local path")
		}
	default:
		return nil, pos.Validationf("mode", "unknown topology %q", opts.Topology)
	}
	c := &Controller{opts: opts}
	c.setState(pos.ModeOffline, "")
	return c, nil
}

// SetReplayer installs the replayer used by GoOnline. It must be called
// before Start.
func (c *Controller) SetReplayer(r Replayer) {
	c.replayer = r
}

// Topology returns the configured topology.
func (c *Controller) Topology() Topology {
	return c.opts.Topology
}

// State returns the current connection state without locking.
func (c *Controller) State() pos.ConnectionState {
	return *c.state.Load()
}

func (c *Controller) setState(mode pos.Mode, lastErr string) {
	prev := c.state.Load()
	s := pos.ConnectionState{
		Mode:         mode,
		Endpoint:     c.opts.Endpoint,
		Reconnecting: mode == pos.ModeReconnecting,
		LastError:    lastErr,
		Since:        c.opts.Now().UTC(),
	}
	if prev != nil && prev.Mode == mode {
		s.Since = prev.Since
	}
	c.state.Store(&s)
	if prev == nil || prev.Mode != mode {
		slog.Info("mode changed", "mode", mode, "endpoint", c.opts.Endpoint, "reason", lastErr)
	}
}

// Start opens the initial backend. In the shared topology the primary is
// used when it opens and the backup holds nothing unsynced; otherwise the
// terminal starts OFFLINE on the backup and the first reachable probe
// reconnects it. Start fails with FatalStorageFailure only when no store
// can be opened.
func (c *Controller) Start(ctx context.Context) error {
	c.access.Lock()
	defer c.access.Unlock()

	if c.opts.Topology == Remote {
		local, err := openLocal(ctx, c.opts.LocalPath)
		if err != nil {
			return pos.E(pos.KindFatalStorage, "start", err)
		}
		c.backend = Backend{Store: local}
		c.setState(pos.ModeOffline, "starting")
		return nil
	}

	backup, backupErr := openLocal(ctx, c.opts.LocalPath)
	backlog := 0
	if backupErr != nil {
		slog.Warn("backup store unavailable", "path", c.opts.LocalPath, "error", backupErr)
	} else if n, err := queue.New(backup).Unsynced(ctx); err != nil {
		slog.Warn("backup store unreadable", "path", c.opts.LocalPath, "error", err)
	} else {
		backlog = n
	}

	var primaryErr error
	if backlog == 0 {
		primary, err := openPrimary(ctx, c.opts.PrimaryPath)
		if err == nil {
			c.backend = c.directBackend(primary, backup)
			c.setState(pos.ModeOnline, "")
			return nil
		}
		primaryErr = err
		slog.Warn("primary store unavailable", "path", c.opts.PrimaryPath, "error", err)
	}

	if backupErr != nil {
		return pos.E(pos.KindFatalStorage, "start", errors.Join(primaryErr, backupErr))
	}
	c.backend = Backend{Store: backup}
	reason := "unsynced operations in backup"
	if primaryErr != nil {
		reason = primaryErr.Error()
	}
	c.setState(pos.ModeOffline, reason)
	return nil
}

func (c *Controller) directBackend(primary, mirror *store.Store) Backend {
	return Backend{
		Store:     primary,
		Direct:    true,
		Authority: authority.NewStore(primary).WithClock(c.opts.Now),
		Mirror:    mirror,
	}
}

// With runs fn against the active backend while holding the access lock
// shared. fn must not call transition methods.
func (c *Controller) With(ctx context.Context, fn func(Backend) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.access.RLock()
	defer c.access.RUnlock()
	if c.closed || c.backend.Store == nil {
		return pos.E(pos.KindFatalStorage, "with", ErrClosed)
	}
	return fn(c.backend)
}

// TryWith is With that gives up instead of waiting for a transition. It
// reports whether fn ran.
func (c *Controller) TryWith(fn func(Backend) error) (bool, error) {
	if !c.access.TryRLock() {
		return false, nil
	}
	defer c.access.RUnlock()
	if c.closed || c.backend.Store == nil {
		return true, pos.E(pos.KindFatalStorage, "with", ErrClosed)
	}
	return true, fn(c.backend)
}

// Observe feeds a probe result into the state machine.
func (c *Controller) Observe(ctx context.Context, r connectivity.Result) {
	state := c.State()
	switch {
	case r.Reachable && state.Mode != pos.ModeOnline:
		if err := c.GoOnline(ctx); err != nil {
			slog.Warn("reconnect failed", "error", err)
		}
	case !r.Reachable && state.Mode == pos.ModeOnline:
		reason := "probe failed"
		if r.Err != nil {
			reason = r.Err.Error()
		}
		if err := c.GoOffline(ctx, reason); err != nil {
			slog.Error("go offline failed", "error", err)
		}
	case !r.Reachable && r.Err != nil && state.LastError != r.Err.Error():
		c.setState(state.Mode, r.Err.Error())
	}
}

// ReportStorageFailure reacts to a failed write on the active store. In the
// shared topology a failing primary means the share is gone. It must not be
// called from inside With.
func (c *Controller) ReportStorageFailure(ctx context.Context, cause error) {
	if c.opts.Topology != Shared || c.State().Mode != pos.ModeOnline {
		return
	}
	slog.Warn("primary store failed", "error", cause)
	if err := c.GoOffline(ctx, cause.Error()); err != nil {
		slog.Error("go offline failed", "error", err)
	}
}

// GoOffline switches to OFFLINE. In the shared topology it refreshes the
// backup catalog from the primary when the primary is still readable, then
// makes the backup the active store and closes the primary.
func (c *Controller) GoOffline(ctx context.Context, reason string) error {
	_, err, _ := c.flight.Do("offline", func() (any, error) {
		return nil, c.goOffline(ctx, reason)
	})
	return err
}

func (c *Controller) goOffline(ctx context.Context, reason string) error {
	c.access.Lock()
	defer c.access.Unlock()

	if c.closed || c.State().Mode != pos.ModeOnline {
		return nil
	}

	if c.opts.Topology == Remote {
		c.backend = Backend{Store: c.backend.Store}
		c.setState(pos.ModeOffline, reason)
		return nil
	}

	primary, backup := c.backend.Store, c.backend.Mirror
	if backup == nil {
		var err error
		if backup, err = openLocal(ctx, c.opts.LocalPath); err != nil {
			// Nothing to fall back to; keep the primary and let the next
			// write decide.
			return pos.E(pos.KindFatalStorage, "go offline", err)
		}
	}
	if err := snapshotCatalog(ctx, primary, backup, c.opts.Now()); err != nil {
		slog.Warn("backup keeps its previous catalog", "error", err)
	}
	if err := primary.Close(); err != nil {
		slog.Debug("close primary", "error", err)
	}
	c.backend = Backend{Store: backup}
	c.setState(pos.ModeOffline, reason)
	return nil
}

// GoOnline reconnects: OFFLINE -> RECONNECTING -> ONLINE. Everything queued
// while offline is replayed before the authority becomes the target again.
// On any failure the terminal stays OFFLINE on the store it was using.
func (c *Controller) GoOnline(ctx context.Context) error {
	_, err, _ := c.flight.Do("online", func() (any, error) {
		return nil, c.goOnline(ctx)
	})
	if err == nil && c.opts.OnOnline != nil && c.State().Online() {
		c.opts.OnOnline(ctx)
	}
	return err
}

func (c *Controller) goOnline(ctx context.Context) error {
	c.access.Lock()
	defer c.access.Unlock()

	if c.closed {
		return pos.E(pos.KindFatalStorage, "go online", ErrClosed)
	}
	if c.State().Mode == pos.ModeOnline {
		return nil
	}
	if c.replayer == nil {
		return errors.New("go online: no replayer installed")
	}

	c.setState(pos.ModeReconnecting, "")
	fail := func(err error) error {
		c.setState(pos.ModeOffline, err.Error())
		return err
	}

	local := c.backend.Store
	if c.opts.Topology == Remote {
		if err := c.replayer.Replay(ctx, local, c.opts.Remote); err != nil {
			return fail(err)
		}
		c.backend = Backend{Store: local, Authority: c.opts.Remote}
		c.setState(pos.ModeOnline, "")
		return nil
	}

	primary, err := openPrimary(ctx, c.opts.PrimaryPath)
	if err != nil {
		return fail(pos.E(pos.KindConnectivity, "open primary", err))
	}
	next := c.directBackend(primary, local)
	if err := c.replayer.Replay(ctx, local, next.Authority); err != nil {
		primary.Close()
		return fail(err)
	}
	c.backend = next
	c.setState(pos.ModeOnline, "")
	return nil
}

// Close closes the active store. Later calls to With fail.
func (c *Controller) Close() error {
	c.access.Lock()
	defer c.access.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.backend.Store.Close()
	if c.backend.Mirror != nil {
		err = errors.Join(err, c.backend.Mirror.Close())
	}
	c.backend = Backend{}
	c.setState(pos.ModeOffline, "closed")
	return err
}

// openPrimary opens the shared store and proves it accepts writes.
func openPrimary(ctx context.Context, path string) (*store.Store, error) {
	st, err := store.Open(path, store.Shared)
	if err != nil {
		return nil, err
	}
	err = st.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE cache_meta SET id = id WHERE id = 1`)
		return err
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("verify write access to %s: %w", path, err)
	}
	return st, nil
}

// openLocal opens a local store and returns operations a crash left in
// SYNCING to PENDING.
func openLocal(ctx context.Context, path string) (*store.Store, error) {
	st, err := store.Open(path, store.Local)
	if err != nil {
		return nil, err
	}
	if n, err := queue.New(st).ResetSyncing(ctx); err != nil {
		st.Close()
		return nil, err
	} else if n > 0 {
		slog.Info("recovered interrupted operations", "count", n, "path", path)
	}
	return st, nil
}

// snapshotCatalog copies the primary's catalog into the backup.
func snapshotCatalog(ctx context.Context, primary, backup *store.Store, now time.Time) error {
	products, err := cache.New(primary).All(ctx)
	if err != nil {
		return fmt.Errorf("read primary catalog: %w", err)
	}
	return cache.New(backup).ReplaceAll(ctx, products, now)
}
