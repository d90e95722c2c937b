// Package dbtest opens migrated throwaway SQLite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/migrations"
)

// Open returns a migrated SQLite database under t.TempDir. It is closed
// when the test finishes.
func Open(t testing.TB) *conn.DB {
	t.Helper()
	raw, err := conn.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db := &conn.DB{DB: raw, Driver: conn.SQLite}
	if err := migrations.Migrate(context.Background(), db); err != nil {
		raw.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return db
}
