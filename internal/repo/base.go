package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by repositories that run both inside and outside a
// caller's transaction.
type Base struct {
	db *gorm.DB
}

// NewBase binds the pool connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Conn returns tx when one is supplied, otherwise the pool connection,
// bound to ctx.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	conn := b.db
	if tx != nil {
		conn = tx
	}
	if conn == nil || ctx == nil {
		return conn
	}
	return conn.WithContext(ctx)
}
