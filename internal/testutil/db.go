// Package testutil provides shared helpers for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"fetch/internal/database"
	"fetch/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database private to the test.
// The pool is pinned to one connection so every goroutine sees the same
// database and writers serialize the way a row lock would serialize them.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         database.NewGormLogger(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedAccount inserts an account with the given balance and no ledger history.
func SeedAccount(t *testing.T, db *gorm.DB, id string, balance int64) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:              id,
		Name:            "User " + id,
		Username:        models.NormalizeUsername(id),
		Balance:         balance,
		GenerosityLevel: models.LevelNewbie,
		Achievements:    []string{},
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

// Balance reads an account's current balance.
func Balance(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var account models.Account
	require.NoError(t, db.Where("id = ?", id).First(&account).Error)
	return account.Balance
}
