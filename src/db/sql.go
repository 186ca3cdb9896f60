package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"github.com/jmoiron/sqlx"
)

// SQL adapts a database/sql handle wrapped by sqlx: a *sqlx.DB or a *sqlx.Tx.
// The dialect is chosen from the driver name.
func SQL(c sqlx.ExtContext) Conn {
	base := sqlConn{c: c, dialect: DialectFor(c.DriverName())}
	if tx, ok := c.(*sqlx.Tx); ok {
		return &sqlTx{sqlConn: base, tx: tx}
	}
	return &base
}

// Wraps a plain *sql.DB. driverName must be the name it was opened with.
func FromDB(db *sql.DB, driverName string) Conn {
	return SQL(sqlx.NewDb(db, driverName))
}

type sqlConn struct {
	c       sqlx.ExtContext
	dialect Dialect
}

var (
	_ Conn = &sqlConn{}
	_ Tx   = &sqlTx{}
	_ Tx   = &savepointTx{}
)

func (s *sqlConn) Dialect() Dialect {
	return s.dialect
}

func (s *sqlConn) Exec(ctx context.Context, query string, args ...any) (res Result, err error) {
	done := traceSQL(ctx, query, args)
	defer func() { done(err) }()

	r, err := s.c.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	res.RowsAffected, err = r.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	if id, idErr := r.LastInsertId(); idErr == nil {
		res.LastInsertID = id
		res.HasLastInsertID = true
	}
	return res, nil
}

func (s *sqlConn) FetchOne(ctx context.Context, query string, args ...any) (vals []any, err error) {
	done := traceSQL(ctx, query, args)
	defer func() { done(err) }()

	rows, err := s.c.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if rows.Next() {
		vals, err = rows.SliceScan()
		if err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vals, rows.Close()
}

func (s *sqlConn) FetchAll(ctx context.Context, query string, args ...any) (res [][]any, err error) {
	done := traceSQL(ctx, query, args)
	defer func() { done(err) }()

	rows, err := s.c.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		res = append(res, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, rows.Close()
}

func (s *sqlConn) Stream(ctx context.Context, query string, args ...any) (Cursor, error) {
	done := traceSQL(ctx, query, args)
	rows, err := s.c.QueryxContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, err
	}
	return &sqlCursor{rows: rows, done: done}, nil
}

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

func (s *sqlConn) Begin(ctx context.Context) (Tx, error) {
	b, ok := s.c.(txBeginner)
	if !ok {
		return nil, oops.New(ErrUnsupported, "%T cannot begin transactions", s.c)
	}
	tx, err := b.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{sqlConn: sqlConn{c: tx, dialect: s.dialect}, tx: tx}, nil
}

type sqlTx struct {
	sqlConn
	tx         *sqlx.Tx
	savepoints atomic.Int64
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

// database/sql has no nested transactions, so Begin on a transaction opens a
// savepoint, the same way pgx does.
func (t *sqlTx) Begin(ctx context.Context) (Tx, error) {
	name := fmt.Sprintf("sqlrt_sp_%d", t.savepoints.Add(1))
	if _, err := t.sqlConn.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &savepointTx{parent: t, name: name}, nil
}

type savepointTx struct {
	parent *sqlTx
	name   string
	done   bool
}

func (sp *savepointTx) Dialect() Dialect { return sp.parent.Dialect() }

func (sp *savepointTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return sp.parent.Exec(ctx, query, args...)
}

func (sp *savepointTx) FetchOne(ctx context.Context, query string, args ...any) ([]any, error) {
	return sp.parent.FetchOne(ctx, query, args...)
}

func (sp *savepointTx) FetchAll(ctx context.Context, query string, args ...any) ([][]any, error) {
	return sp.parent.FetchAll(ctx, query, args...)
}

func (sp *savepointTx) Stream(ctx context.Context, query string, args ...any) (Cursor, error) {
	return sp.parent.Stream(ctx, query, args...)
}

func (sp *savepointTx) Begin(ctx context.Context) (Tx, error) {
	return sp.parent.Begin(ctx)
}

func (sp *savepointTx) Commit(ctx context.Context) error {
	if sp.done {
		return ErrTxDone
	}
	sp.done = true
	_, err := sp.parent.Exec(ctx, "RELEASE SAVEPOINT "+sp.name)
	return err
}

func (sp *savepointTx) Rollback(ctx context.Context) error {
	if sp.done {
		return ErrTxDone
	}
	sp.done = true
	_, err := sp.parent.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp.name)
	return err
}

type sqlCursor struct {
	rows   *sqlx.Rows
	done   func(error)
	count  int64
	closed bool
	err    error
}

func (c *sqlCursor) Next() bool {
	if c.closed {
		return false
	}
	return c.rows.Next()
}

func (c *sqlCursor) Values() ([]any, error) {
	vals, err := c.rows.SliceScan()
	if err != nil {
		return nil, err
	}
	c.count++
	return vals, nil
}

func (c *sqlCursor) Err() error {
	if c.closed {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error {
	if c.closed {
		return c.err
	}
	c.closed = true
	c.err = errors.Join(c.rows.Err(), c.rows.Close())
	c.done(c.err)
	return c.err
}

// database/sql does not report rows affected for queries, so this is the
// number of rows read. For DELETE/UPDATE ... RETURNING drained to the end,
// the two are the same.
func (c *sqlCursor) RowsAffected() int64 {
	return c.count
}
