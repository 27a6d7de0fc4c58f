package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type note struct {
	ID   int64 `gorm:"primaryKey"`
	Body string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&note{}))
	return conn
}

func TestConnUsesPoolWithoutTx(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	require.NoError(t, base.Conn(context.Background(), nil).Create(&note{Body: "pool"}).Error)

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestConnPrefersTransaction(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := base.Conn(context.Background(), tx).Create(&note{Body: "tx"}).Error; err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	require.Zero(t, count, "insert must roll back with the caller's transaction")
}

func TestConnNilContext(t *testing.T) {
	db := newTestDB(t)
	var ctx context.Context
	require.Same(t, db, NewBase(db).Conn(ctx, nil))
}
