// Package cache is the read-optimized mirror of the authority's product
// catalog. It is the single lookup path for sale creation: whatever the
// cache holds is what the terminal currently knows, even when stale.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/store"
)

const (
	// DefaultSearchLimit is used when Search is called with limit <= 0.
	DefaultSearchLimit = 20
	// MaxSearchLimit bounds every Search result.
	MaxSearchLimit = 100
)

// Cache is a logical view over one store.
type Cache struct {
	st *store.Store
}

// New returns the cache view of st.
func New(st *store.Store) *Cache {
	return &Cache{st: st}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, code, ean, description, price, cost, stock_quantity, min_stock, active, updated_at`

// FindByCode returns the active product whose code or EAN equals code.
// A code match wins over an EAN match.
func (c *Cache) FindByCode(ctx context.Context, code string) (pos.Product, error) {
	return findByCode(ctx, c.st.DB(), code)
}

// FindByCodeTx is FindByCode inside a transaction.
func FindByCodeTx(ctx context.Context, tx *sql.Tx, code string) (pos.Product, error) {
	return findByCode(ctx, tx, code)
}

func findByCode(ctx context.Context, q querier, code string) (pos.Product, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = 1 AND (code = ?1 OR (ean <> '' AND ean = ?1))
		ORDER BY CASE WHEN code = ?1 THEN 0 ELSE 1 END, id
		LIMIT 1
	`, code)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Product{}, fmt.Errorf("product %q: %w", code, pos.ErrNotFound)
	}
	return p, err
}

// FindByID returns the active product with the given id.
func (c *Cache) FindByID(ctx context.Context, id int64) (pos.Product, error) {
	return findByID(ctx, c.st.DB(), id)
}

// FindByIDTx is FindByID inside a transaction.
func FindByIDTx(ctx context.Context, tx *sql.Tx, id int64) (pos.Product, error) {
	return findByID(ctx, tx, id)
}

func findByID(ctx context.Context, q querier, id int64) (pos.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ? AND active = 1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Product{}, fmt.Errorf("product %d: %w", id, pos.ErrNotFound)
	}
	return p, err
}

// Search returns active products whose description, code or EAN contains
// term, ignoring case and accents, ordered by description.
func (c *Cache) Search(ctx context.Context, term string, limit int) ([]pos.Product, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	key := SearchKey(term)
	if key == "" {
		return []pos.Product{}, nil
	}

	rows, err := c.st.DB().QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = 1 AND search_key LIKE ? ESCAPE '\'
		ORDER BY description COLLATE NOCASE ASC, id ASC
		LIMIT ?
	`, likePattern(key), limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return collectProducts(rows)
}

// All returns every product, active or not, ordered by id.
func (c *Cache) All(ctx context.Context) ([]pos.Product, error) {
	rows, err := c.st.DB().QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return collectProducts(rows)
}

// ChangedSince returns products updated strictly after since, ordered by
// update time. A zero since returns the whole catalog.
func (c *Cache) ChangedSince(ctx context.Context, since time.Time) ([]pos.Product, error) {
	if since.IsZero() {
		return c.All(ctx)
	}
	rows, err := c.st.DB().QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE updated_at > ?
		ORDER BY updated_at, id
	`, store.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list changed products: %w", err)
	}
	return collectProducts(rows)
}

// Count returns the number of active products.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// LastSyncAt returns the time of the last successful pull, or nil.
func (c *Cache) LastSyncAt(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	if err := c.st.DB().QueryRowContext(ctx, `SELECT last_sync_at FROM cache_meta WHERE id = 1`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	t, err := store.ParseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReplaceAll atomically replaces the whole catalog and records syncedAt as
// the last sync time. If any product is invalid nothing changes.
func (c *Cache) ReplaceAll(ctx context.Context, products []pos.Product, syncedAt time.Time) error {
	if err := validateAll(products); err != nil {
		return err
	}
	return c.st.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
			return fmt.Errorf("clear products: %w", err)
		}
		if err := upsertProducts(ctx, tx, products); err != nil {
			return err
		}
		return touchLastSync(ctx, tx, syncedAt)
	})
}

// Merge upserts products by id, for incremental pulls. Products the
// authority deactivated arrive with Active=false and stay hidden.
func (c *Cache) Merge(ctx context.Context, products []pos.Product, syncedAt time.Time) error {
	if err := validateAll(products); err != nil {
		return err
	}
	return c.st.Transaction(ctx, func(tx *sql.Tx) error {
		if err := upsertProducts(ctx, tx, products); err != nil {
			return err
		}
		return touchLastSync(ctx, tx, syncedAt)
	})
}

// UpsertTx writes products inside an existing transaction without touching
// the sync metadata.
func UpsertTx(ctx context.Context, tx *sql.Tx, products []pos.Product) error {
	if err := validateAll(products); err != nil {
		return err
	}
	return upsertProducts(ctx, tx, products)
}

func validateAll(products []pos.Product) error {
	seen := make(map[int64]struct{}, len(products))
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return pos.Validationf("product", "duplicate product id %d in catalog", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func upsertProducts(ctx context.Context, tx *sql.Tx, products []pos.Product) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products
		(id, code, ean, description, search_key, price, cost, stock_quantity, min_stock, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			ean = excluded.ean,
			description = excluded.description,
			search_key = excluded.search_key,
			price = excluded.price,
			cost = excluded.cost,
			stock_quantity = excluded.stock_quantity,
			min_stock = excluded.min_stock,
			active = excluded.active,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare product upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		_, err := stmt.ExecContext(ctx,
			p.ID,
			p.Code,
			p.EAN,
			p.Description,
			SearchKey(p.Description, p.Code, p.EAN),
			p.Price.String(),
			p.Cost.String(),
			p.StockQuantity,
			p.MinStock,
			p.Active,
			store.FormatTime(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert product %d: %w", p.ID, err)
		}
	}
	return nil
}

// touchLastSync advances last_sync_at; it never moves it backwards.
func touchLastSync(ctx context.Context, tx *sql.Tx, syncedAt time.Time) error {
	ts := store.FormatTime(syncedAt)
	_, err := tx.ExecContext(ctx, `
		UPDATE cache_meta
		SET last_sync_at = ?1
		WHERE id = 1 AND (last_sync_at IS NULL OR last_sync_at < ?1)
	`, ts)
	if err != nil {
		return fmt.Errorf("update cache metadata: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (pos.Product, error) {
	var p pos.Product
	var updated string
	err := row.Scan(&p.ID, &p.Code, &p.EAN, &p.Description, &p.Price, &p.Cost,
		&p.StockQuantity, &p.MinStock, &p.Active, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pos.Product{}, err
		}
		return pos.Product{}, fmt.Errorf("scan product: %w", err)
	}
	if p.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return pos.Product{}, err
	}
	return p, nil
}

func collectProducts(rows *sql.Rows) ([]pos.Product, error) {
	defer rows.Close()
	products := []pos.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}
