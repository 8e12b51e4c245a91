package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txContextKey struct{}

// Tx is an open transaction other queries on the same context join.
type Tx struct {
	*sqlx.Tx
}

// Executor returns the transaction bound to ctx, falling back to db.
func Executor(ctx context.Context, db DB) Queryer {
	if tx, ok := ctx.Value(txContextKey{}).(*Tx); ok {
		return tx
	}
	return db
}

// InTx runs fn inside a transaction. When ctx already carries one, fn joins it and the outer
// caller decides the outcome. Otherwise the transaction is committed when fn returns nil and
// rolled back when it returns an error or panics.
func InTx(ctx context.Context, db DB, opts *sql.TxOptions, fn func(ctx context.Context, q Queryer) error) (err error) {
	if tx, ok := ctx.Value(txContextKey{}).(*Tx); ok {
		return fn(ctx, tx)
	}

	sqlTx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return
		}
		if err = sqlTx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()

	return fn(context.WithValue(ctx, txContextKey{}, tx), tx)
}
