package db

import (
	"context"
	"database/sql"
	"errors"
)

// Conn is implemented by every connection, pool or transaction the runtime
// can execute queries on. Construct one with Pgx or SQL.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (Result, error)
	// Returns the raw values of the first row, or nil if there are no rows.
	// Any further rows are discarded.
	FetchOne(ctx context.Context, sql string, args ...any) ([]any, error)
	FetchAll(ctx context.Context, sql string, args ...any) ([][]any, error)
	// Opens a cursor. The caller must close it.
	Stream(ctx context.Context, sql string, args ...any) (Cursor, error)
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
}

type Tx interface {
	Conn
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Cursor interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	// Releases the cursor. Safe to call more than once.
	Close() error
	// The number of rows the statement affected. Only meaningful after Close.
	RowsAffected() int64
}

type Result struct {
	RowsAffected int64
	// Only set by drivers that report it (SQLite, MySQL).
	LastInsertID    int64
	HasLastInsertID bool
}

// Implemented by connections that support bulk loading.
type Copier interface {
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// One statement of a batch.
type BatchStatement struct {
	SQL  string
	Args []any
}

// Implemented by connections that can send many statements in one round
// trip. The batch runs in an implicit transaction unless the connection is
// already in one.
type Batcher interface {
	SendBatch(ctx context.Context, stmts []BatchStatement) BatchResults
}

// The results of a batch, read one statement at a time in the order the
// statements were queued. Once a statement fails, it and every later read
// return that error.
type BatchResults interface {
	Exec() (Result, error)
	FetchOne() ([]any, error)
	FetchAll() ([][]any, error)
	// Discards any unread results. Returns the first error of the batch.
	Close() error
}

var (
	// Returned when committing or rolling back a transaction that has already
	// been resolved. It is the same value as database/sql's ErrTxDone.
	ErrTxDone = sql.ErrTxDone

	// Returned when a connection lacks a capability, such as bulk copy.
	ErrUnsupported = errors.New("operation not supported by this connection")
)

// Whether conn is an open transaction.
func InTransaction(conn Conn) bool {
	_, ok := conn.(Tx)
	return ok
}
