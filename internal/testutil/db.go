package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sudoStacks/retreivr/internal/db"
)

// SetupTestDB creates a migrated SQLite database in a temp directory and
// returns the connection, ready for use in tests. A real file is used rather
// than :memory: because the connection pool would hand each goroutine its own
// empty in-memory database, which breaks any test exercising concurrency.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database
}
