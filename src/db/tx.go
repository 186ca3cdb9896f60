package db

import (
	"context"
	"errors"

	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
)

/*
Runs fn in a transaction on conn. The transaction is committed if fn returns
nil, and rolled back if fn returns an error or panics (the panic is re-raised
after the rollback).

If conn is already a transaction, fn runs directly on it and Transact neither
commits nor rolls back; that is left to whoever opened it.

A failed rollback is logged and joined with the error from fn, so neither is
lost.
*/
func Transact(ctx context.Context, conn Conn, fn func(tx Tx) error) (err error) {
	if tx, ok := conn.(Tx); ok {
		return fn(tx)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		r := recover()
		// Roll back even if ctx was canceled; that may be why we are here.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			logging.ExtractLogger(ctx).Error().Err(rbErr).Msg("failed to roll back transaction")
			err = errors.Join(err, oops.New(rbErr, "failed to roll back transaction"))
		}
		if r != nil {
			logging.LogPanicValue(logging.ExtractLogger(ctx), r, "panic in transaction, rolled back")
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.New(err, "failed to commit transaction")
	}
	committed = true

	return nil
}

// Like Transact, but returns a value from fn.
func TransactResult[T any](ctx context.Context, conn Conn, fn func(tx Tx) (T, error)) (T, error) {
	var res T
	err := Transact(ctx, conn, func(tx Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}
