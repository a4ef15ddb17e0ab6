package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/posync/internal/pos"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial posync schema
const currentSchemaVersion = 1

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Profile selects the pragma tuning for the physical medium.
type Profile int

const (
	// Local tunes for a file on the terminal's own disk.
	Local Profile = iota
	// Shared tunes for a file on a network share.
	Shared
)

func (p Profile) String() string {
	if p == Shared {
		return "shared"
	}
	return "local"
}

// Store is one open physical SQLite store.
type Store struct {
	db      *sql.DB
	path    string
	profile Profile

	// maint is held shared by transactions and exclusively by maintenance
	// (checkpoint, vacuum, copy).
	maint sync.RWMutex
}

// Open creates or opens the store at path, applies the profile's pragmas and
// creates the schema if it is missing.
//
// This function is idempotent - safe to call multiple times on one path.
func Open(path string, profile Profile) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, profile); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas to %s: %w", path, err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	return &Store{db: db, path: path, profile: profile}, nil
}

// Close closes the database connection. Safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.maint.Lock()
	defer s.maint.Unlock()
	err := s.db.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Profile returns the tuning profile of the store.
func (s *Store) Profile() Profile {
	return s.profile
}

// Ping verifies the store still answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping %s: %w", s.path, err)
	}
	return nil
}

// Transaction runs fn inside a single transaction. Any error returned by fn,
// or a panic, rolls everything back. Errors already classified by the pos
// package (validation failures in particular) are returned unchanged; all
// others are reported as TransactionFailure.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	s.maint.RLock()
	defer s.maint.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pos.E(pos.KindTransaction, "begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if pos.KindOf(err) != "" {
			return err
		}
		return pos.E(pos.KindTransaction, "transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return pos.E(pos.KindTransaction, "commit", err)
	}
	return nil
}

// CheckpointResult reports the outcome of a WAL checkpoint.
type CheckpointResult struct {
	Busy         bool `json:"busy"`
	LogFrames    int  `json:"log_frames"`
	Checkpointed int  `json:"checkpointed"`
}

// Checkpoint flushes the WAL into the main database file and truncates it.
// New transactions wait while it runs.
func (s *Store) Checkpoint(ctx context.Context) (CheckpointResult, error) {
	s.maint.Lock()
	defer s.maint.Unlock()

	var busy int
	var res CheckpointResult
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &res.LogFrames, &res.Checkpointed)
	if err != nil {
		return CheckpointResult{}, fmt.Errorf("checkpoint %s: %w", s.path, err)
	}
	res.Busy = busy != 0
	return res, nil
}

// VacuumIncremental releases up to pages free pages back to the filesystem.
// A non-positive pages value releases all of them.
func (s *Store) VacuumIncremental(ctx context.Context, pages int) error {
	s.maint.Lock()
	defer s.maint.Unlock()

	stmt := "PRAGMA incremental_vacuum"
	if pages > 0 {
		stmt = fmt.Sprintf("PRAGMA incremental_vacuum(%d)", pages)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("incremental vacuum %s: %w", s.path, err)
	}
	return nil
}

// CopyTo writes a consistent, compacted copy of the store to path. It refuses
// to overwrite an existing file.
func (s *Store) CopyTo(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("copy %s: destination %s already exists", s.path, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("copy %s: %w", s.path, err)
	}

	s.maint.Lock()
	defer s.maint.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("copy %s to %s: %w", s.path, path, err)
	}
	return nil
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// pragmasFor returns the pragma list for a profile. auto_vacuum must come
// before the schema so new files are created with incremental vacuum.
func pragmasFor(profile Profile) []string {
	common := []string{
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	if profile == Shared {
		return append(common,
			"PRAGMA busy_timeout = 30000",
			"PRAGMA synchronous = FULL",
			"PRAGMA wal_autocheckpoint = 10000",
			"PRAGMA mmap_size = 0",
			"PRAGMA cache_size = -8000",
		)
	}
	return append(common,
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA wal_autocheckpoint = 1000",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	)
}

// applyPragmas sets the profile's SQLite configuration.
func applyPragmas(db *sql.DB, profile Profile) error {
	for _, pragma := range pragmasFor(profile) {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
