package exec

import (
	"context"

	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/query"
)

// Async is the non-blocking form of an Accessor. Every method starts the call
// on its own goroutine and returns at once. The results and errors are the
// same as the blocking methods'.
type Async[T any] struct {
	a *Accessor[T]
}

func (a *Accessor[T]) Async() *Async[T] {
	return &Async[T]{a: a}
}

func (as *Async[T]) Definition() *query.Definition {
	return as.a.def
}

func (as *Async[T]) One(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[*T] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (*T, error) {
		return as.a.One(ctx, c, args...)
	})
}

// Rows are mapped as the consumer reads them. The stream must be read to the
// end or closed.
func (as *Async[T]) Many(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Stream[T] {
	return db.RunStream(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn, emit func(T) bool) error {
		it, err := as.a.Many(ctx, c, args...)
		if err != nil {
			return err
		}
		for {
			row, ok := it.Next()
			if !ok || !emit(*row) {
				break
			}
		}
		return it.Close()
	})
}

func (as *Async[T]) All(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[[]T] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) ([]T, error) {
		return as.a.All(ctx, c, args...)
	})
}

func (as *Async[T]) Exec(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[struct{}] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (struct{}, error) {
		return struct{}{}, as.a.Exec(ctx, c, args...)
	})
}

func (as *Async[T]) ExecResult(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[*Result[T]] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (*Result[T], error) {
		return as.a.ExecResult(ctx, c, args...)
	})
}

func (as *Async[T]) ExecRows(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[int64] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (int64, error) {
		return as.a.ExecRows(ctx, c, args...)
	})
}

func (as *Async[T]) ExecLastID(ctx context.Context, conn *db.AsyncConn, args ...any) *db.Future[int64] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (int64, error) {
		return as.a.ExecLastID(ctx, c, args...)
	})
}

func (as *Async[T]) CopyFrom(ctx context.Context, conn *db.AsyncConn, rows [][]any) *db.Future[int64] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (int64, error) {
		return as.a.CopyFrom(ctx, c, rows)
	})
}

// f runs on the batch's goroutine.
func (as *Async[T]) BatchExec(ctx context.Context, conn *db.AsyncConn, argRows [][]any, f func(i int, err error)) *db.Future[struct{}] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (struct{}, error) {
		return struct{}{}, as.a.BatchExec(ctx, c, argRows, f)
	})
}

func (as *Async[T]) BatchOne(ctx context.Context, conn *db.AsyncConn, argRows [][]any, f func(i int, row *T, err error)) *db.Future[struct{}] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (struct{}, error) {
		return struct{}{}, as.a.BatchOne(ctx, c, argRows, f)
	})
}

func (as *Async[T]) BatchMany(ctx context.Context, conn *db.AsyncConn, argRows [][]any, f func(i int, rows []T, err error)) *db.Future[struct{}] {
	return db.Run(ctx, conn, as.a.def.Name, func(ctx context.Context, c db.Conn) (struct{}, error) {
		return struct{}{}, as.a.BatchMany(ctx, c, argRows, f)
	})
}
