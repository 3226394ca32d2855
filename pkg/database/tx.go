package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TxFunc is executed inside a transaction. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// TxManager opens short, bounded transactions. Every transaction sets a lock
// timeout so a blocked row lock surfaces as an error instead of a hang.
type TxManager struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	txTimeout   time.Duration
}

// NewTxManager constructs a TxManager. Zero timeouts disable the respective bound.
func NewTxManager(db *sqlx.DB, lockTimeout, txTimeout time.Duration) *TxManager {
	return &TxManager{db: db, lockTimeout: lockTimeout, txTimeout: txTimeout}
}

// InTx runs fn in a read-committed transaction, committing when fn returns nil.
func (m *TxManager) InTx(ctx context.Context, fn TxFunc) (err error) {
	if m.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.txTimeout)
		defer cancel()
	}

	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if m.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
