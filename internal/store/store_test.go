package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/pos"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, Local)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, path, s.Path())
	assert.Equal(t, Local, s.Profile())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, Shared)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path, Local)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"products", "sales", "sale_lines", "stock_movements", "pending_operations", "cache_meta"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}

	var metaRows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM cache_meta").Scan(&metaRows))
	assert.Equal(t, 1, metaRows, "cache_meta must stay a singleton")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db", Local)
	assert.Error(t, err)
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), Local)
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	_ = s.Close()

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
}

func TestPragma_LocalProfile(t *testing.T) {
	s := createTestStoreWith(t, Local)

	for name, want := range map[string]string{
		"journal_mode":       "wal",
		"synchronous":        "1",
		"busy_timeout":       "5000",
		"foreign_keys":       "1",
		"auto_vacuum":        "2",
		"wal_autocheckpoint": "1000",
		"user_version":       "1",
	} {
		assert.NoError(t, s.verifyPragma(name, want))
	}
}

func TestPragma_SharedProfile(t *testing.T) {
	s := createTestStoreWith(t, Shared)

	for name, want := range map[string]string{
		"journal_mode":       "wal",
		"synchronous":        "2",
		"busy_timeout":       "30000",
		"wal_autocheckpoint": "10000",
		"mmap_size":          "0",
	} {
		assert.NoError(t, s.verifyPragma(name, want))
	}
}

func TestTransaction_CommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := FormatTime(time.Now())

	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO products (id, code, description, price, updated_at) VALUES (1, 'A', 'a', '1', ?)`, now)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO products (id, code, description, price, updated_at) VALUES (2, 'B', 'b', '1', ?)`, now); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, pos.IsKind(err, pos.KindTransaction))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM products").Scan(&count))
	assert.Equal(t, 1, count, "rolled back insert must not be visible")
}

func TestTransaction_PassesClassifiedErrors(t *testing.T) {
	s := createTestStore(t)
	err := s.Transaction(context.Background(), func(tx *sql.Tx) error {
		return pos.Validationf("test", "nope")
	})
	assert.True(t, pos.IsValidation(err))
}

func TestTransaction_RollsBackOnPanic(t *testing.T) {
	s := createTestStore(t)
	now := FormatTime(time.Now())

	assert.Panics(t, func() {
		_ = s.Transaction(context.Background(), func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO products (id, code, description, price, updated_at) VALUES (1, 'A', 'a', '1', ?)`, now)
			panic("mid-transaction")
		})
	})

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM products").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestStockCheckConstraint(t *testing.T) {
	s := createTestStore(t)
	err := s.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO products (id, code, description, price, stock_quantity, updated_at) VALUES (1, 'A', 'a', '1', -1, ?)`, FormatTime(time.Now()))
		return err
	})
	assert.Error(t, err)
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, s.VacuumIncremental(ctx, 10))
	require.NoError(t, s.VacuumIncremental(ctx, 0))

	dst := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, s.CopyTo(ctx, dst))

	copied, err := Open(dst, Local)
	require.NoError(t, err)
	defer copied.Close()
	require.NoError(t, copied.Ping(ctx))

	assert.Error(t, s.CopyTo(ctx, dst), "copy must refuse to overwrite")
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("X", 3600))
	got, err := ParseTime(FormatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(got))

	early := FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC))
	assert.Less(t, early, late, "layout must sort lexically")
}
