package sales

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

func createTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sales.db"), store.Local)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	coffee := pos.Product{
		ID: 1, Code: "123", Description: "Coffee",
		Price: decimal.RequireFromString("8.50"), StockQuantity: 10, Active: true,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.New(st).ReplaceAll(context.Background(), []pos.Product{coffee}, time.Now()))
	return New(st), st
}

func coffeeSale(localID string, qty int64) pos.Sale {
	p := pos.Product{ID: 1, Code: "123", Description: "Coffee", Price: decimal.RequireFromString("8.50")}
	return pos.NewSale(localID, "T1", pos.PaymentCash, []pos.SaleLine{pos.NewSaleLine(p, qty)},
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func record(t *testing.T, st *store.Store, s pos.Sale, opts RecordOptions) (int64, bool, error) {
	t.Helper()
	var id int64
	var inserted bool
	err := st.Transaction(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, inserted, err = RecordTx(context.Background(), tx, s, opts)
		return err
	})
	return id, inserted, err
}

func stockOf(t *testing.T, st *store.Store) int64 {
	t.Helper()
	p, err := cache.New(st).FindByID(context.Background(), 1)
	require.NoError(t, err)
	return p.StockQuantity
}

func TestRecordTx_WritesSaleLinesAndStock(t *testing.T) {
	ctx := context.Background()
	l, st := createTestLedger(t)

	_, inserted, err := record(t, st, coffeeSale("s-1", 2), RecordOptions{})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(8), stockOf(t, st))

	got, err := l.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
	assert.Zero(t, got.ID)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "17.00", got.Total.StringFixed(2))
	assert.Equal(t, int64(2), got.Lines[0].Quantity)
	assert.NoError(t, got.Validate())
}

func TestRecordTx_DuplicateIsNoop(t *testing.T) {
	l, st := createTestLedger(t)

	_, _, err := record(t, st, coffeeSale("s-1", 2), RecordOptions{})
	require.NoError(t, err)
	_, inserted, err := record(t, st, coffeeSale("s-1", 2), RecordOptions{})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(8), stockOf(t, st), "stock decremented once")

	total, unsynced, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, unsynced)
}

func TestRecordTx_InsufficientStockRollsBack(t *testing.T) {
	l, st := createTestLedger(t)

	_, _, err := record(t, st, coffeeSale("s-1", 11), RecordOptions{})
	require.Error(t, err)
	assert.True(t, pos.IsValidation(err))
	assert.True(t, errors.Is(err, pos.ErrInsufficientStock))

	_, err = l.Get(context.Background(), "s-1")
	assert.True(t, errors.Is(err, pos.ErrNotFound), "no partial sale")
	assert.Equal(t, int64(10), stockOf(t, st))
}

func TestRecordTx_ClampAndAssign(t *testing.T) {
	ctx := context.Background()
	l, st := createTestLedger(t)

	id, inserted, err := record(t, st, coffeeSale("s-1", 12), RecordOptions{ClampStock: true, AssignID: true})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Positive(t, id)
	assert.Equal(t, int64(0), stockOf(t, st))

	got, err := l.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, id, got.ID)

	again, inserted, err := record(t, st, coffeeSale("s-1", 12), RecordOptions{ClampStock: true, AssignID: true})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, again, "duplicate returns the original authority id")
}

func TestRecordTx_RejectsInvalidSale(t *testing.T) {
	_, st := createTestLedger(t)
	bad := coffeeSale("s-1", 2)
	bad.Total = decimal.RequireFromString("1")

	_, _, err := record(t, st, bad, RecordOptions{})
	assert.True(t, pos.IsValidation(err))
}

func TestMarkSyncedTx(t *testing.T) {
	ctx := context.Background()
	l, st := createTestLedger(t)
	_, _, err := record(t, st, coffeeSale("s-1", 1), RecordOptions{})
	require.NoError(t, err)

	require.NoError(t, st.Transaction(ctx, func(tx *sql.Tx) error {
		return MarkSyncedTx(ctx, tx, "s-1", 42)
	}))
	got, err := l.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, int64(42), got.ID)

	err = st.Transaction(ctx, func(tx *sql.Tx) error {
		return MarkSyncedTx(ctx, tx, "missing", 1)
	})
	assert.True(t, errors.Is(err, pos.ErrNotFound))
}

func TestLocalIDs_Ordered(t *testing.T) {
	l, st := createTestLedger(t)
	first := coffeeSale("b", 1)
	second := coffeeSale("a", 1)
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	_, _, err := record(t, st, first, RecordOptions{})
	require.NoError(t, err)
	_, _, err = record(t, st, second, RecordOptions{})
	require.NoError(t, err)

	ids, err := l.LocalIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)
}
