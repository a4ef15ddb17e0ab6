package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

// PullCatalog refreshes the cache from the authority. With force, or when
// the cache has never been synced, the whole catalog is replaced; otherwise
// only products changed since the last pull are merged. It returns the
// number of products received.
//
// While the terminal writes straight into a shared primary, the primary is
// the catalog, so the pull refreshes the backup file instead. That keeps
// the backup close to current for the next outage.
func (e *Engine) PullCatalog(ctx context.Context, force bool) (int, error) {
	e.pullMu.Lock()
	defer e.pullMu.Unlock()
	return e.pull(ctx, force)
}

func (e *Engine) pull(ctx context.Context, force bool) (int, error) {
	var n int
	var full bool
	err := e.backends.With(ctx, func(b mode.Backend) error {
		if b.Authority == nil {
			return pos.E(pos.KindConnectivity, "pull catalog", ErrOffline)
		}
		target := b.Store
		if b.Direct {
			if b.Mirror == nil {
				return pos.E(pos.KindFatalStorage, "pull catalog", mode.ErrNoBackup)
			}
			target = b.Mirror
		}
		var err error
		n, full, err = e.applyCatalog(ctx, target, b.Authority, force)
		return err
	})
	if err != nil {
		slog.Warn("catalog pull failed", "error", err)
		return 0, err
	}
	slog.Debug("catalog pulled", "products", n, "full", full)
	return n, nil
}

func (e *Engine) applyCatalog(ctx context.Context, target *store.Store, auth authority.Authority, force bool) (int, bool, error) {
	c := cache.New(target)

	var since *time.Time
	if !force {
		last, err := c.LastSyncAt(ctx)
		if err != nil {
			return 0, false, err
		}
		since = last
	}

	cat, err := auth.FetchCatalog(ctx, since)
	if err != nil {
		return 0, false, err
	}

	full := cat.Full || since == nil
	if full {
		err = c.ReplaceAll(ctx, cat.Products, cat.AsOf)
	} else {
		err = c.Merge(ctx, cat.Products, cat.AsOf)
	}
	if err != nil {
		return 0, false, err
	}
	e.noteSync(cat.AsOf)
	return len(cat.Products), full, nil
}
