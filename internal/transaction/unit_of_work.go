// Package transaction provides the unit of work that scopes persistence
// calls of one command to a single database transaction.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "postbox/pkg/errors"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Transaction interface {
	Commit() error
	Rollback() error
}

// UnitOfWork begins transactions. The returned context carries the
// transaction; repositories pick it up through QuerierFrom.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, Transaction, error)
}

type txKey struct{}

// QuerierFrom returns the transaction bound to ctx, or fallback.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return fallback
}

func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

type SQLUnitOfWork struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewSQLUnitOfWork(db *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{
		db:   db,
		opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
}

// Begin starts a transaction bound to ctx: cancelling ctx before Commit
// rolls it back.
func (u *SQLUnitOfWork) Begin(ctx context.Context) (context.Context, Transaction, error) {
	if InTransaction(ctx) {
		return ctx, nil, pkgerrors.ErrTransaction.WithDetail("message", "nested transactions are not supported")
	}

	tx, err := u.db.BeginTx(ctx, u.opts)
	if err != nil {
		return ctx, nil, pkgerrors.Wrap(err, pkgerrors.ErrTransaction)
	}

	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// Within runs fn inside a transaction and commits when it returns nil. Any
// error or panic rolls back. Errors from fn that are already typed are
// returned unchanged; others become TRANSACTION_ERROR. The returned time is
// the commit instant.
func Within(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context) error) (committedAt time.Time, err error) {
	txCtx, tx, err := uow.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return time.Time{}, asTransactionError(err)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return time.Time{}, pkgerrors.Wrap(err, pkgerrors.ErrTransaction)
	}

	return time.Now().UTC(), nil
}

func asTransactionError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrTransaction)
}
