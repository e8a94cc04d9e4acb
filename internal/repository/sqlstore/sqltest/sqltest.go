// Package sqltest opens throwaway SQLite databases for tests.
package sqltest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
)

// Open returns a migrated in-memory SQLite database that lives for the
// duration of t. The pool is pinned to one connection so every query sees the
// same in-memory database.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	require.NoError(t, sqlstore.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// Store returns a Store over a fresh database.
func Store(t *testing.T) *sqlstore.Store {
	t.Helper()
	return sqlstore.New(Open(t), nil)
}
