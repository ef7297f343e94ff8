package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/tandem/internal/logging"
)

// NewTestStore creates an in-memory store for tests. Cleanup is registered
// with t.Cleanup().
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    store := storage.NewTestStore(t)
//	    // ... test code ...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, logging.Discard())
	require.NoError(t, err)
	return s
}

// NewTestStoreFile creates a file-backed store in t.TempDir(). Use it when
// a test reopens the database.
func NewTestStoreFile(t testing.TB) (*Store, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "tandem.db")
	s, err := Open(dbPath, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}
