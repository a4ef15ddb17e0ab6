package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

// Epoch is the start time used by fixtures.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Product builds an active product.
func Product(id int64, code, description, price string, stock int64) pos.Product {
	return pos.Product{
		ID:            id,
		Code:          code,
		Description:   description,
		Price:         decimal.RequireFromString(price),
		Cost:          decimal.Zero,
		StockQuantity: stock,
		Active:        true,
		UpdatedAt:     Epoch,
	}
}

// Catalog is a small catalog. Code "123" is priced 8.50 with 10 units.
func Catalog() []pos.Product {
	coffee := Product(1, "123", "Café Molido 500g", "8.50", 10)
	coffee.EAN = "7791234567890"
	return []pos.Product{
		coffee,
		Product(2, "456", "Azúcar 1kg", "2.10", 40),
		Product(3, "789", "Leche Entera", "1.35", 24),
	}
}

// OpenStore opens a store named name in a per-test temp dir and closes it
// on cleanup.
func OpenStore(t *testing.T, name string, profile store.Profile) *store.Store {
	t.Helper()
	return OpenStoreAt(t, filepath.Join(t.TempDir(), name), profile)
}

// OpenStoreAt opens the store at path and closes it on cleanup.
func OpenStoreAt(t *testing.T, path string, profile store.Profile) *store.Store {
	t.Helper()
	st, err := store.Open(path, profile)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// Eventually polls cond until it holds or a second passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}

// Background returns a context cancelled on test cleanup.
func Background(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
