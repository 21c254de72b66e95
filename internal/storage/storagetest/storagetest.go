// Package storagetest opens throwaway databases for package tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"envsurveillance/internal/storage"
)

// OpenSQLite opens a migrated SQLite database in a per-test directory.
func OpenSQLite(t testing.TB) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db, nil); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}
