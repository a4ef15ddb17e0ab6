// Package sales persists sales and their lines. A sale, its lines and the
// stock movements it causes are always written in one transaction, so a
// partial sale is never observable.
package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/posync/internal/cache"
	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

// Ledger is a read view of the sales recorded in one store.
type Ledger struct {
	st *store.Store
}

// New returns the ledger view of st.
func New(st *store.Store) *Ledger {
	return &Ledger{st: st}
}

// RecordOptions controls how RecordTx treats stock.
type RecordOptions struct {
	// ClampStock lets stock stop at zero instead of rejecting the sale.
	ClampStock bool
	// AssignID stamps the row id as the authority id and marks the sale
	// synced. Used when this store is the authority.
	AssignID bool
}

// RecordTx inserts sale with its lines and decrements stock for every line.
// It returns inserted=false, with the stored sale's authority id, when a sale
// with the same local id already exists; nothing is written in that case.
func RecordTx(ctx context.Context, tx *sql.Tx, sale pos.Sale, opts RecordOptions) (id int64, inserted bool, err error) {
	if err := sale.Validate(); err != nil {
		return 0, false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales
		(local_id, authority_id, subtotal, total, payment_method, created_at, origin_terminal_id, synced)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING
	`,
		sale.LocalID,
		sale.Subtotal.String(),
		sale.Total.String(),
		string(sale.PaymentMethod),
		store.FormatTime(sale.CreatedAt),
		sale.OriginTerminalID,
		sale.Synced,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert sale %s: %w", sale.LocalID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, false, fmt.Errorf("insert sale %s: %w", sale.LocalID, err)
	} else if n == 0 {
		var existing sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT authority_id FROM sales WHERE local_id = ?`, sale.LocalID).Scan(&existing)
		if err != nil {
			return 0, false, fmt.Errorf("select existing sale %s: %w", sale.LocalID, err)
		}
		return existing.Int64, false, nil
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert sale %s: %w", sale.LocalID, err)
	}

	for i, l := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines
			(sale_local_id, line_no, product_id, code, description, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sale.LocalID, i+1, l.ProductID, l.Code, l.Description, l.Quantity, l.UnitPrice.String(), l.LineTotal.String())
		if err != nil {
			return 0, false, fmt.Errorf("insert sale %s line %d: %w", sale.LocalID, i+1, err)
		}
	}

	for productID, qty := range sale.Units() {
		_, err := cache.ApplyStockTx(ctx, tx, cache.Movement{
			ProductID: productID,
			Delta:     -qty,
			Reason:    cache.ReasonSale,
			Reference: sale.LocalID,
			At:        sale.CreatedAt,
		}, opts.ClampStock)
		if err != nil {
			return 0, false, err
		}
	}

	if opts.AssignID {
		if _, err := tx.ExecContext(ctx, `UPDATE sales SET authority_id = id, synced = 1 WHERE id = ?`, rowID); err != nil {
			return 0, false, fmt.Errorf("assign authority id to %s: %w", sale.LocalID, err)
		}
		return rowID, true, nil
	}
	return 0, true, nil
}

// MarkSyncedTx records that the authority accepted the sale under
// authorityID.
func MarkSyncedTx(ctx context.Context, tx *sql.Tx, localID string, authorityID int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sales SET synced = 1, authority_id = COALESCE(NULLIF(?, 0), authority_id)
		WHERE local_id = ?
	`, authorityID, localID)
	if err != nil {
		return fmt.Errorf("mark sale %s synced: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark sale %s synced: %w", localID, pos.ErrNotFound)
	}
	return nil
}

// Get returns the sale with the given local id, lines included.
func (l *Ledger) Get(ctx context.Context, localID string) (pos.Sale, error) {
	var s pos.Sale
	var authorityID sql.NullInt64
	var method, created string
	err := l.st.DB().QueryRowContext(ctx, `
		SELECT local_id, authority_id, subtotal, total, payment_method, created_at, origin_terminal_id, synced
		FROM sales WHERE local_id = ?
	`, localID).Scan(&s.LocalID, &authorityID, &s.Subtotal, &s.Total, &method, &created, &s.OriginTerminalID, &s.Synced)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Sale{}, fmt.Errorf("sale %s: %w", localID, pos.ErrNotFound)
	}
	if err != nil {
		return pos.Sale{}, fmt.Errorf("read sale %s: %w", localID, err)
	}
	s.ID = authorityID.Int64
	s.PaymentMethod = pos.PaymentMethod(method)
	if s.CreatedAt, err = store.ParseTime(created); err != nil {
		return pos.Sale{}, err
	}
	if s.Lines, err = l.lines(ctx, localID); err != nil {
		return pos.Sale{}, err
	}
	return s, nil
}

func (l *Ledger) lines(ctx context.Context, localID string) ([]pos.SaleLine, error) {
	rows, err := l.st.DB().QueryContext(ctx, `
		SELECT product_id, code, description, quantity, unit_price, line_total
		FROM sale_lines WHERE sale_local_id = ?
		ORDER BY line_no
	`, localID)
	if err != nil {
		return nil, fmt.Errorf("read lines of %s: %w", localID, err)
	}
	defer rows.Close()

	var lines []pos.SaleLine
	for rows.Next() {
		var ln pos.SaleLine
		if err := rows.Scan(&ln.ProductID, &ln.Code, &ln.Description, &ln.Quantity, &ln.UnitPrice, &ln.LineTotal); err != nil {
			return nil, fmt.Errorf("scan line of %s: %w", localID, err)
		}
		lines = append(lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lines of %s: %w", localID, err)
	}
	return lines, nil
}

// Count returns the number of recorded sales, and how many are unsynced.
func (l *Ledger) Count(ctx context.Context) (total, unsynced int, err error) {
	err = l.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM sales
	`).Scan(&total, &unsynced)
	if err != nil {
		return 0, 0, fmt.Errorf("count sales: %w", err)
	}
	return total, unsynced, nil
}

// LocalIDs returns the local ids of all sales, oldest first.
func (l *Ledger) LocalIDs(ctx context.Context) ([]string, error) {
	rows, err := l.st.DB().QueryContext(ctx, `SELECT local_id FROM sales ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sale id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
