// Package dbtest provides an isolated in-memory record store for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"gorm.io/gorm"
)

// New returns a migrated in-memory SQLite database closed at test cleanup.
func New(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.OpenSQLite(dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() { _ = database.Close(db) })
	return db
}
