package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrTxDone is returned when a finished transaction is committed again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// UnitOfWork opens transactions that span several repositories. Repositories join a
// transaction through their WithTx(tx) constructors and never commit on their own.
type UnitOfWork struct {
	conn *gorm.DB
}

// NewUnitOfWork binds a unit of work to the GORM connection.
func NewUnitOfWork(conn *gorm.DB) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// Begin starts a transaction bound to ctx.
func (u *UnitOfWork) Begin(ctx context.Context) (*Tx, error) {
	if u == nil || u.conn == nil {
		return nil, errors.New("unit of work not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx := u.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &Tx{db: tx}, nil
}

// Tx is a single open transaction.
type Tx struct {
	db   *gorm.DB
	done bool
}

// DB returns the transactional handle to pass to repositories.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// Commit makes the transaction's writes visible.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}
