// Package storagetest opens throwaway SQLite repositories for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/camuig/sigtrader/internal/storage"
)

func NewRepository(t *testing.T) *storage.Repository {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return storage.NewRepository(db)
}
