package database

import (
	"context"
	"testing"

	"fetch/internal/config"
	"fetch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}

	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite is pinned to a single connection.
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestMigrate_CreatesTablesAndBalanceCheck(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: NewGormLogger(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))

	for _, table := range []string{"accounts", "ledger_entries", "friendships", "notifications", "activities"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	require.NoError(t, db.Create(&models.Account{ID: "a", Username: "alice"}).Error)
	err = db.Exec("UPDATE accounts SET balance = -1 WHERE id = ?", "a").Error
	assert.Error(t, err, "balance check constraint should reject negative balances")

	assert.NoError(t, Ping(context.Background(), db))
}

func TestPersistentModels_IncludesLedger(t *testing.T) {
	found := false
	for _, model := range PersistentModels() {
		if _, ok := model.(*models.LedgerEntry); ok {
			found = true
			break
		}
	}
	require.True(t, found, "PersistentModels should include LedgerEntry")
}
