// Package dbtest opens throwaway chat databases for tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/ghostline/db"
)

// New opens a migrated SQLite database in a temporary directory.
// Automatically registers cleanup via t.Cleanup().
func New(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "chat.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		conn.Close()
		t.Fatalf("Foreign keys are off on the test database (err=%v)", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
