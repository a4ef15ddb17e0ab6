package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/sales"
	"github.com/roach88/posync/internal/store"
)

// Store is an authority backed by a store handle. Offline sales replayed
// against it may oversell; stock then stops at zero.
type Store struct {
	st  *store.Store
	now func() time.Time
}

var _ Authority = (*Store)(nil)

// NewStore returns the authority view of st.
func NewStore(st *store.Store) *Store {
	return &Store{st: st, now: time.Now}
}

// WithClock replaces the clock used for catalog timestamps.
func (a *Store) WithClock(now func() time.Time) *Store {
	a.now = now
	return a
}

// Health pings the store.
func (a *Store) Health(ctx context.Context) error {
	return pos.E(pos.KindConnectivity, "health", a.st.Ping(ctx))
}

// FetchCatalog reads the catalog from the store, inactive products included
// so deactivations reach the terminals.
func (a *Store) FetchCatalog(ctx context.Context, since *time.Time) (Catalog, error) {
	asOf := a.now().UTC()
	c := cache.New(a.st)

	var products []pos.Product
	var err error
	if since == nil {
		products, err = c.All(ctx)
	} else {
		products, err = c.ChangedSince(ctx, *since)
	}
	if err != nil {
		return Catalog{}, pos.E(pos.KindConnectivity, "fetch catalog", err)
	}
	return Catalog{Products: products, AsOf: asOf, Full: since == nil}, nil
}

// SubmitSale records sale, decrements stock and assigns the authority id.
func (a *Store) SubmitSale(ctx context.Context, sale pos.Sale) (Ack, error) {
	var ack Ack
	err := a.st.Transaction(ctx, func(tx *sql.Tx) error {
		id, inserted, err := sales.RecordTx(ctx, tx, sale, sales.RecordOptions{ClampStock: true, AssignID: true})
		if err != nil {
			return err
		}
		ack = Ack{AuthorityID: id, Duplicate: !inserted}
		if !inserted {
			return nil
		}
		ids := make([]int64, 0, len(sale.Lines))
		for id := range sale.Units() {
			ids = append(ids, id)
		}
		return cache.TouchTx(ctx, tx, a.now(), ids...)
	})
	if err != nil {
		return Ack{}, classify("submit sale "+sale.LocalID, err)
	}
	return ack, nil
}

// SubmitAdjustment applies adj to the authority's stock.
func (a *Store) SubmitAdjustment(ctx context.Context, adj pos.StockAdjustment) (Ack, error) {
	if err := adj.Validate(); err != nil {
		return Ack{}, classify("submit adjustment", err)
	}
	var ack Ack
	err := a.st.Transaction(ctx, func(tx *sql.Tx) error {
		applied, err := cache.ApplyStockTx(ctx, tx, cache.Movement{
			ProductID: adj.ProductID,
			Delta:     adj.Delta,
			Reason:    cache.ReasonAdjustment,
			Reference: adj.LocalID,
			At:        adj.CreatedAt,
		}, true)
		if err != nil {
			return err
		}
		ack.Duplicate = !applied
		if !applied {
			return nil
		}
		return cache.TouchTx(ctx, tx, a.now(), adj.ProductID)
	})
	if err != nil {
		return Ack{}, classify("submit adjustment "+adj.LocalID, err)
	}
	return ack, nil
}

// Import upserts products into the authority catalog, stamping them with
// the current time so every terminal pulls them.
func (a *Store) Import(ctx context.Context, products []pos.Product) error {
	now := a.now().UTC()
	stamped := make([]pos.Product, len(products))
	for i, p := range products {
		p.UpdatedAt = now
		stamped[i] = p
	}
	return a.st.Transaction(ctx, func(tx *sql.Tx) error {
		return cache.UpsertTx(ctx, tx, stamped)
	})
}

// classify maps store errors to what a terminal should do about them: a
// submission the authority cannot apply is a conflict, everything else is
// treated as the authority being unreachable.
func classify(op string, err error) error {
	if pos.IsValidation(err) || errors.Is(err, pos.ErrNotFound) {
		return pos.E(pos.KindSyncConflict, op, err)
	}
	if pos.IsConnectivity(err) || pos.IsConflict(err) {
		return err
	}
	return pos.E(pos.KindConnectivity, op, fmt.Errorf("authority store: %w", err))
}
