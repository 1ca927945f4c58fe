package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"readmaster/pkg/store"
)

// OpenTestStore opens an in-memory SQLite store with all tables migrated.
func OpenTestStore(t *testing.T) *store.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	s, err := store.NewGormStoreWithDB(db)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return s
}
