// Package testing provides testing utilities shared across packages.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/allocator/internal/database"
)

// NewTestDB creates a temp-file SQLite database with its schema applied.
// The database is closed when the test finishes; the returned cleanup may also be
// called early and is safe to call twice.
//
// Supported schema names:
//   - "history" - the price cache tables
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)

	return db, cleanup
}
