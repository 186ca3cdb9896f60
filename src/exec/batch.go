package exec

import (
	"context"

	"git.handmade.network/hmn/sqlrt/src/bind"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
)

/*
The batch methods run a statement once per argument row and report each
item's result to f, in order:

	:batchexec  BatchExec  f(i, err)
	:batchone   BatchOne   f(i, row, err), row is nil when there is no row
	:batchmany  BatchMany  f(i, rows, err)

Every row is bound before anything is sent. Once an item fails, every later
item reports the same error and the first error is returned. A database error
also aborts the batch, so none of it is committed (see db.SendBatch). f may
be nil.
*/
func (a *Accessor[T]) BatchExec(ctx context.Context, conn db.Conn, argRows [][]any, f func(i int, err error)) error {
	stmts, err := a.prepareBatch(ctx, conn, query.BatchExec, argRows)
	if err != nil {
		return err
	}

	return a.runBatch(ctx, conn, stmts, func(i int, br db.BatchResults) error {
		_, err := br.Exec()
		if f != nil {
			f(i, err)
		}
		return err
	})
}

func (a *Accessor[T]) BatchOne(ctx context.Context, conn db.Conn, argRows [][]any, f func(i int, row *T, err error)) error {
	stmts, err := a.prepareBatch(ctx, conn, query.BatchOne, argRows)
	if err != nil {
		return err
	}

	return a.runBatch(ctx, conn, stmts, func(i int, br db.BatchResults) error {
		var row *T
		raw, err := br.FetchOne()
		if err == nil && raw != nil {
			var v T
			v, err = a.plan.Map(raw)
			if err == nil {
				row = &v
			}
		}
		if f != nil {
			f(i, row, err)
		}
		return err
	})
}

func (a *Accessor[T]) BatchMany(ctx context.Context, conn db.Conn, argRows [][]any, f func(i int, rows []T, err error)) error {
	stmts, err := a.prepareBatch(ctx, conn, query.BatchMany, argRows)
	if err != nil {
		return err
	}

	return a.runBatch(ctx, conn, stmts, func(i int, br db.BatchResults) error {
		raw, err := br.FetchAll()
		var rows []T
		if err == nil {
			rows = make([]T, 0, len(raw))
			for _, r := range raw {
				v, mapErr := a.plan.Map(r)
				if mapErr != nil {
					rows, err = nil, mapErr
					break
				}
				rows = append(rows, v)
			}
		}
		if f != nil {
			f(i, rows, err)
		}
		return err
	})
}

func (a *Accessor[T]) prepareBatch(ctx context.Context, conn db.Conn, card query.Cardinality, argRows [][]any) ([]db.BatchStatement, error) {
	if err := a.checkCardinality(card); err != nil {
		return nil, err
	}

	logging.ExtractLogger(ctx).Debug().
		Str("query", a.def.Name).
		Stringer("cardinality", a.def.Cardinality).
		Int("items", len(argRows)).
		Bool("tx", db.InTransaction(conn)).
		Msg("Executing batch")

	stmts := make([]db.BatchStatement, len(argRows))
	for i, args := range argRows {
		b, err := bind.Bind(a.def, conn.Dialect(), args)
		if err != nil {
			return nil, oops.New(err, "item %d", i)
		}
		stmts[i] = db.BatchStatement{SQL: b.SQL, Args: b.Args}
	}
	return stmts, nil
}

// Reads every item, reporting the first failure to every later item without
// reading it.
func (a *Accessor[T]) runBatch(ctx context.Context, conn db.Conn, stmts []db.BatchStatement, item func(i int, br db.BatchResults) error) error {
	err := db.SendBatch(ctx, conn, stmts, func(br db.BatchResults) error {
		var first error
		for i := range stmts {
			if first != nil {
				item(i, failedBatch{first})
				continue
			}
			first = item(i, br)
		}
		return first
	})
	if err != nil {
		return a.fail(err)
	}
	return nil
}

// Results for items queued after a failed one.
type failedBatch struct {
	err error
}

func (f failedBatch) Exec() (db.Result, error)   { return db.Result{}, f.err }
func (f failedBatch) FetchOne() ([]any, error)   { return nil, f.err }
func (f failedBatch) FetchAll() ([][]any, error) { return nil, f.err }
func (f failedBatch) Close() error               { return f.err }
