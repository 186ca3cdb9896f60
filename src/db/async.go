package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"git.handmade.network/hmn/sqlrt/src/jobs"
)

// AsyncConn is the non-blocking face of a Conn. Every operation starts on its
// own goroutine and returns immediately.
//
// The underlying Conn's concurrency rules still apply: a pool may serve many
// calls at once, but a single connection or transaction must not have two
// calls in flight. Await each call before starting the next on those.
type AsyncConn struct {
	conn Conn

	mu      sync.Mutex
	pending jobs.Jobs
}

type AsyncCursor = Stream[[]any]

func Async(conn Conn) *AsyncConn {
	return &AsyncConn{conn: conn}
}

// The blocking Conn this wraps.
func (a *AsyncConn) Sync() Conn {
	return a.conn
}

func (a *AsyncConn) Dialect() Dialect {
	return a.conn.Dialect()
}

func (a *AsyncConn) InTransaction() bool {
	return InTransaction(a.conn)
}

// Runs fn on its own goroutine against a's connection. The call is tracked
// until it finishes, so Shutdown can wait for it.
func Run[T any](ctx context.Context, a *AsyncConn, name string, fn func(ctx context.Context, conn Conn) (T, error)) *Future[T] {
	f := Go(ctx, name, func(ctx context.Context) (T, error) {
		return fn(ctx, a.conn)
	})
	a.track(f.job)
	return f
}

// Like Run, for producers of a Stream.
func RunStream[T any](ctx context.Context, a *AsyncConn, name string, produce func(ctx context.Context, conn Conn, emit func(T) bool) error) *Stream[T] {
	s := NewStream(ctx, name, func(ctx context.Context, emit func(T) bool) error {
		return produce(ctx, a.conn, emit)
	})
	a.track(s.job)
	return s
}

func (a *AsyncConn) track(job *jobs.Job) {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := a.pending[:0]
	for _, j := range a.pending {
		select {
		case <-j.Finished():
		default:
			live = append(live, j)
		}
	}
	a.pending = append(live, job)
}

/*
Stops every open stream started on a and waits up to timeout for all of its
outstanding calls to finish. Returns the names of the calls that did not.

Calls other than streams are not interrupted, only waited for, so a statement
in flight keeps its connection until it completes.
*/
func (a *AsyncConn) Shutdown(timeout time.Duration) []string {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	return pending.CancelAndWait(timeout)
}

func (a *AsyncConn) Exec(ctx context.Context, sql string, args ...any) *Future[Result] {
	return Run(ctx, a, "exec", func(ctx context.Context, conn Conn) (Result, error) {
		return conn.Exec(ctx, sql, args...)
	})
}

func (a *AsyncConn) FetchOne(ctx context.Context, sql string, args ...any) *Future[[]any] {
	return Run(ctx, a, "fetch one", func(ctx context.Context, conn Conn) ([]any, error) {
		return conn.FetchOne(ctx, sql, args...)
	})
}

func (a *AsyncConn) FetchAll(ctx context.Context, sql string, args ...any) *Future[[][]any] {
	return Run(ctx, a, "fetch all", func(ctx context.Context, conn Conn) ([][]any, error) {
		return conn.FetchAll(ctx, sql, args...)
	})
}

// Rows are read one at a time as the consumer asks for them. The underlying
// cursor is closed when the rows run out or the stream is closed.
func (a *AsyncConn) Stream(ctx context.Context, sql string, args ...any) *AsyncCursor {
	return RunStream(ctx, a, "stream", func(ctx context.Context, conn Conn, emit func([]any) bool) error {
		return Drain(ctx, conn, sql, args, emit)
	})
}

// Async counterpart of Transact. fn receives an AsyncConn on the transaction.
func (a *AsyncConn) Transact(ctx context.Context, fn func(tx *AsyncConn) error) *Future[struct{}] {
	return Run(ctx, a, "transact", func(ctx context.Context, conn Conn) (struct{}, error) {
		return struct{}{}, Transact(ctx, conn, func(tx Tx) error {
			return fn(Async(tx))
		})
	})
}

// Streams every row of a statement into emit, stopping early if emit returns
// false. The cursor is always closed, and its close error is returned.
func Drain(ctx context.Context, conn Conn, sql string, args []any, emit func([]any) bool) error {
	cur, err := conn.Stream(ctx, sql, args...)
	if err != nil {
		return err
	}
	for cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			return errors.Join(err, cur.Close())
		}
		if !emit(vals) {
			break
		}
	}
	return cur.Close()
}
