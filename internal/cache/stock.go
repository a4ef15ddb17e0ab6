package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

// Movement is one stock change. Reference ties it to the sale or
// adjustment that caused it; (Reference, ProductID) is applied at most once.
type Movement struct {
	ProductID int64
	Delta     int64
	Reason    string
	Reference string
	At        time.Time
}

// Movement reasons.
const (
	ReasonSale       = "sale"
	ReasonAdjustment = "adjustment"
)

// ApplyStockTx records m and changes the product's stock inside tx. It
// returns applied=false when the movement was already recorded.
//
// With clamp=false a movement that would take stock below zero fails with
// ErrInsufficientStock. With clamp=true stock stops at zero instead; the
// authority uses this when offline sales from several terminals oversell.
func ApplyStockTx(ctx context.Context, tx *sql.Tx, m Movement, clamp bool) (applied bool, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (product_id, delta, reason, reference, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reference, product_id) DO NOTHING
	`, m.ProductID, m.Delta, m.Reason, m.Reference, store.FormatTime(m.At))
	if err != nil {
		return false, fmt.Errorf("record stock movement for product %d: %w", m.ProductID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("record stock movement: %w", err)
	} else if n == 0 {
		return false, nil
	}

	if clamp {
		res, err = tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = MAX(0, stock_quantity + ?) WHERE id = ?
		`, m.Delta, m.ProductID)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity + ?1
			WHERE id = ?2 AND stock_quantity + ?1 >= 0
		`, m.Delta, m.ProductID)
	}
	if err != nil {
		return false, fmt.Errorf("update stock for product %d: %w", m.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	if n == 0 {
		if clamp {
			return false, fmt.Errorf("product %d: %w", m.ProductID, pos.ErrNotFound)
		}
		return false, insufficient(ctx, tx, m)
	}
	return true, nil
}

// insufficient distinguishes a missing product from a stock shortfall.
func insufficient(ctx context.Context, tx *sql.Tx, m Movement) error {
	var stock int64
	var code string
	err := tx.QueryRowContext(ctx, `SELECT code, stock_quantity FROM products WHERE id = ?`, m.ProductID).Scan(&code, &stock)
	if err == sql.ErrNoRows {
		return pos.E(pos.KindValidation, "stock", fmt.Errorf("product %d: %w", m.ProductID, pos.ErrNotFound))
	}
	if err != nil {
		return fmt.Errorf("read stock for product %d: %w", m.ProductID, err)
	}
	return pos.E(pos.KindValidation, "stock",
		fmt.Errorf("%w: product %s has %d, requested %d", pos.ErrInsufficientStock, code, stock, -m.Delta))
}

// TouchTx bumps updated_at of the given products so incremental pulls pick
// up their new stock.
func TouchTx(ctx context.Context, tx *sql.Tx, at time.Time, ids ...int64) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE products SET updated_at = ? WHERE id = ?`, store.FormatTime(at), id); err != nil {
			return fmt.Errorf("touch product %d: %w", id, err)
		}
	}
	return nil
}
