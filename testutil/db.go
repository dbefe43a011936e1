// Package testutil builds throwaway databases for package tests.
package testutil

import (
	"fmt"
	"testing"

	"paygate/configs"
	"paygate/entity"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// One connection only: sqlite serialises writers anyway, and a single
// connection keeps the in-memory database alive for the whole test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := configs.OpenDatabase("sqlite", dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, configs.SetupDatabase(db))
	return db
}

// SeedOrder inserts an order with the given total.
func SeedOrder(t testing.TB, db *gorm.DB, ref string, total int64) *entity.Order {
	t.Helper()
	o := &entity.Order{OrderRef: ref, UserID: 1, Total: decimal.NewFromInt(total)}
	require.NoError(t, db.Create(o).Error)
	return o
}
