package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/mode"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/queue"
	"github.com/roach88/posync/internal/sales"
	"github.com/roach88/posync/internal/store"
)

// SaleLineRequest names one product by code (or EAN) or by id.
type SaleLineRequest struct {
	Code      string `json:"code,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Quantity  int64  `json:"quantity"`
}

// SaleRequest is the input of CreateSale.
type SaleRequest struct {
	Lines         []SaleLineRequest `json:"lines"`
	PaymentMethod pos.PaymentMethod `json:"payment_method"`
}

func (r SaleRequest) validate() error {
	if len(r.Lines) == 0 {
		return pos.Validationf("create sale", "sale has no lines")
	}
	if !r.PaymentMethod.Valid() {
		return pos.Validationf("create sale", "unknown payment method %q", r.PaymentMethod)
	}
	for i, l := range r.Lines {
		if l.Code == "" && l.ProductID == 0 {
			return pos.Validationf("create sale", "line %d names no product", i+1)
		}
		if l.Quantity <= 0 {
			return pos.Validationf("create sale", "line %d: quantity must be positive", i+1)
		}
	}
	return nil
}

// CreateSale records a sale against the cached catalog. Prices and
// descriptions are taken from the cache at this moment; stock must cover
// every line. The sale, its lines, the stock decrement and the pending
// operation commit together, or not at all.
//
// On a reachable shared primary the sale is written straight to the
// authority store and no operation is queued. In the remote topology an
// online terminal submits the sale right after commit; if that fails the
// operation stays queued for the push schedule.
func (t *Terminal) CreateSale(ctx context.Context, req SaleRequest) (pos.Sale, error) {
	if err := req.validate(); err != nil {
		return pos.Sale{}, err
	}
	localID := t.opts.NewID()

	var sale pos.Sale
	var direct bool
	err := t.withFailover(ctx, "create sale", func(b mode.Backend) error {
		direct = b.Direct
		now := t.opts.Clock.Now()
		return b.Store.Transaction(ctx, func(tx *sql.Tx) error {
			lines, err := resolveLines(ctx, tx, req.Lines)
			if err != nil {
				return err
			}
			sale = pos.NewSale(localID, t.opts.TerminalID, req.PaymentMethod, lines, now)
			id, _, err := sales.RecordTx(ctx, tx, sale, sales.RecordOptions{AssignID: b.Direct})
			if err != nil {
				return err
			}
			if b.Direct {
				sale.ID, sale.Synced = id, true
				return cache.TouchTx(ctx, tx, now, productIDs(sale)...)
			}
			op, err := pos.NewSaleOperation(sale)
			if err != nil {
				return err
			}
			_, err = queue.EnqueueTx(ctx, tx, op, now)
			return err
		})
	})
	if err != nil {
		return pos.Sale{}, err
	}
	slog.Info("sale created", "local_id", sale.LocalID, "total", sale.Total.StringFixed(pos.MinorUnitPlaces), "direct", direct)

	if !direct && t.ctrl.Topology() == mode.Remote && t.ctrl.State().Online() {
		t.eng.TryPush(ctx)
		if stored, err := t.Sale(ctx, sale.LocalID); err == nil {
			sale = stored
		}
	}
	t.refreshCounts(ctx)
	return sale, nil
}

// Sale returns a sale recorded in the active store.
func (t *Terminal) Sale(ctx context.Context, localID string) (pos.Sale, error) {
	var s pos.Sale
	err := t.ctrl.With(ctx, func(b mode.Backend) error {
		var err error
		s, err = sales.New(b.Store).Get(ctx, localID)
		return err
	})
	return s, err
}

// resolveLines snapshots the requested products from the cache.
func resolveLines(ctx context.Context, tx *sql.Tx, reqs []SaleLineRequest) ([]pos.SaleLine, error) {
	lines := make([]pos.SaleLine, 0, len(reqs))
	for i, r := range reqs {
		var p pos.Product
		var err error
		if r.ProductID != 0 {
			p, err = cache.FindByIDTx(ctx, tx, r.ProductID)
		} else {
			p, err = cache.FindByCodeTx(ctx, tx, r.Code)
		}
		if errors.Is(err, pos.ErrNotFound) {
			return nil, pos.E(pos.KindValidation, "create sale", fmt.Errorf("line %d: %w", i+1, err))
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, pos.NewSaleLine(p, r.Quantity))
	}
	return lines, nil
}

func productIDs(s pos.Sale) []int64 {
	ids := make([]int64, 0, len(s.Lines))
	for id := range s.Units() {
		ids = append(ids, id)
	}
	return ids
}

// AdjustStock changes the stock of the product with the given code by
// delta. Persistence follows CreateSale: applied to the shared primary
// directly when it is active, otherwise applied locally and queued.
func (t *Terminal) AdjustStock(ctx context.Context, code string, delta int64, reason string) (pos.StockAdjustment, error) {
	if code == "" {
		return pos.StockAdjustment{}, pos.Validationf("adjust stock", "code is required")
	}
	if delta == 0 {
		return pos.StockAdjustment{}, pos.Validationf("adjust stock", "delta must not be zero")
	}
	localID := t.opts.NewID()

	var adj pos.StockAdjustment
	err := t.withFailover(ctx, "adjust stock", func(b mode.Backend) error {
		now := t.opts.Clock.Now()
		return b.Store.Transaction(ctx, func(tx *sql.Tx) error {
			p, err := cache.FindByCodeTx(ctx, tx, code)
			if errors.Is(err, pos.ErrNotFound) {
				return pos.E(pos.KindValidation, "adjust stock", err)
			}
			if err != nil {
				return err
			}
			adj = pos.StockAdjustment{
				LocalID:          localID,
				ProductID:        p.ID,
				Code:             p.Code,
				Delta:            delta,
				Reason:           reason,
				CreatedAt:        now.UTC(),
				OriginTerminalID: t.opts.TerminalID,
			}
			if _, err := cache.ApplyStockTx(ctx, tx, cache.Movement{
				ProductID: p.ID,
				Delta:     delta,
				Reason:    cache.ReasonAdjustment,
				Reference: localID,
				At:        adj.CreatedAt,
			}, false); err != nil {
				return err
			}
			if b.Direct {
				return cache.TouchTx(ctx, tx, now, p.ID)
			}
			op, err := pos.NewAdjustmentOperation(adj)
			if err != nil {
				return err
			}
			_, err = queue.EnqueueTx(ctx, tx, op, now)
			return err
		})
	})
	if err != nil {
		return pos.StockAdjustment{}, err
	}
	slog.Info("stock adjusted", "code", adj.Code, "delta", delta, "reason", reason)
	t.refreshCounts(ctx)
	return adj, nil
}

// FailedOperations lists operations that exhausted their retries. While a
// shared primary is active they live in the backup store.
func (t *Terminal) FailedOperations(ctx context.Context) ([]pos.PendingOperation, error) {
	var ops []pos.PendingOperation
	err := t.withQueueStore(ctx, func(st *store.Store, _ mode.Backend) error {
		var err error
		ops, err = queue.New(st).ListFailed(ctx)
		return err
	})
	return ops, err
}

// Requeue moves a FAILED operation back to PENDING and, when the authority
// is reachable, tries to push it right away.
func (t *Terminal) Requeue(ctx context.Context, id int64) error {
	err := t.withQueueStore(ctx, func(st *store.Store, b mode.Backend) error {
		if err := queue.New(st).Requeue(ctx, id); err != nil {
			return err
		}
		if b.Direct {
			if err := t.eng.Replay(ctx, st, b.Authority); err != nil {
				slog.Warn("requeued operation not yet accepted", "id", id, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if t.ctrl.Topology() == mode.Remote && t.ctrl.State().Online() {
		t.eng.TryPush(ctx)
	}
	t.refreshCounts(ctx)
	return nil
}

// withQueueStore runs fn on the store that holds the pending queue.
func (t *Terminal) withQueueStore(ctx context.Context, fn func(*store.Store, mode.Backend) error) error {
	return t.ctrl.With(ctx, func(b mode.Backend) error {
		if !b.Direct {
			return fn(b.Store, b)
		}
		if b.Mirror == nil {
			return pos.E(pos.KindFatalStorage, "queue", mode.ErrNoBackup)
		}
		return fn(b.Mirror, b)
	})
}

// Backup writes a compacted copy of the active store to path.
func (t *Terminal) Backup(ctx context.Context, path string) error {
	return t.ctrl.With(ctx, func(b mode.Backend) error {
		if err := b.Store.CopyTo(ctx, path); err != nil {
			return err
		}
		slog.Info("backup written", "from", b.Store.Path(), "to", path)
		return nil
	})
}

// Optimize checkpoints the active store's WAL and releases free pages.
func (t *Terminal) Optimize(ctx context.Context) (store.CheckpointResult, error) {
	var res store.CheckpointResult
	err := t.ctrl.With(ctx, func(b mode.Backend) error {
		var err error
		if res, err = b.Store.Checkpoint(ctx); err != nil {
			return err
		}
		return b.Store.VacuumIncremental(ctx, 0)
	})
	return res, err
}

// Inspect runs fn against the active store, for tooling that reads tables
// directly.
func (t *Terminal) Inspect(ctx context.Context, fn func(*store.Store) error) error {
	return t.ctrl.With(ctx, func(b mode.Backend) error {
		return fn(b.Store)
	})
}
