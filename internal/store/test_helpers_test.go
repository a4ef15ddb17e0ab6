package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new local-profile store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWith(t, Local)
}

func createTestStoreWith(t *testing.T, profile Profile) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, profile)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
