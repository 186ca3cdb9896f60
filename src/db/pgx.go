package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// This interface should match both a direct pgx connection or a pgx transaction.
type ConnOrTx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults

	// Both raw database connections and transactions in pgx can begin/commit
	// transactions. For database connections it does the obvious thing; for
	// transactions it creates a "pseudo-nested transaction" but conceptually
	// works the same. See the documentation of pgx.Tx.Begin.
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ ConnOrTx = &pgx.Conn{}
	_ ConnOrTx = &pgxpool.Pool{}
	_ ConnOrTx = pgx.Tx(nil)
)

// Pgx adapts a pgx connection, pool or transaction. Passing a pgx.Tx yields a
// Tx, so Transact will run inside it instead of starting a new one.
func Pgx(c ConnOrTx) Conn {
	if tx, ok := c.(pgx.Tx); ok {
		return &pgxTx{pgxConn: pgxConn{c: tx}, tx: tx}
	}
	return &pgxConn{c: c}
}

type pgxConn struct {
	c ConnOrTx
}

var (
	_ Conn    = &pgxConn{}
	_ Copier  = &pgxConn{}
	_ Batcher = &pgxConn{}
	_ Tx      = &pgxTx{}
)

func (p *pgxConn) Dialect() Dialect {
	return Postgres
}

func (p *pgxConn) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := p.c.Exec(ctx, sql, args...)
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

func (p *pgxConn) FetchOne(ctx context.Context, sql string, args ...any) ([]any, error) {
	return firstRow(p.c.Query(ctx, sql, args...))
}

func (p *pgxConn) FetchAll(ctx context.Context, sql string, args ...any) ([][]any, error) {
	return allRows(p.c.Query(ctx, sql, args...))
}

func firstRow(rows pgx.Rows, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		rows.Close()
		return nil, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	rows.Close()
	return vals, rows.Err()
}

func allRows(rows pgx.Rows, err error) ([][]any, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res = append(res, vals)
	}
	rows.Close()
	return res, rows.Err()
}

func (p *pgxConn) Stream(ctx context.Context, sql string, args ...any) (Cursor, error) {
	rows, err := p.c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxCursor{rows: rows}, nil
}

func (p *pgxConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{pgxConn: pgxConn{c: tx}, tx: tx}, nil
}

// Table names may be schema-qualified ("public.authors").
func (p *pgxConn) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return p.c.CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), columns, pgx.CopyFromRows(rows))
}

func (p *pgxConn) SendBatch(ctx context.Context, stmts []BatchStatement) BatchResults {
	b := &pgx.Batch{}
	for _, stmt := range stmts {
		b.Queue(stmt.SQL, stmt.Args...)
	}
	return &pgxBatch{br: p.c.SendBatch(ctx, b)}
}

type pgxBatch struct {
	br pgx.BatchResults
}

func (b *pgxBatch) Exec() (Result, error) {
	tag, err := b.br.Exec()
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

func (b *pgxBatch) FetchOne() ([]any, error) {
	return firstRow(b.br.Query())
}

func (b *pgxBatch) FetchAll() ([][]any, error) {
	return allRows(b.br.Query())
}

func (b *pgxBatch) Close() error {
	return b.br.Close()
}

type pgxTx struct {
	pgxConn
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return pgxTxErr(t.tx.Commit(ctx))
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return pgxTxErr(t.tx.Rollback(ctx))
}

func pgxTxErr(err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return ErrTxDone
	}
	return err
}

type pgxCursor struct {
	rows pgx.Rows
}

func (c *pgxCursor) Next() bool {
	return c.rows.Next()
}

func (c *pgxCursor) Values() ([]any, error) {
	return c.rows.Values()
}

func (c *pgxCursor) Err() error {
	return c.rows.Err()
}

func (c *pgxCursor) Close() error {
	c.rows.Close()
	return c.rows.Err()
}

func (c *pgxCursor) RowsAffected() int64 {
	return c.rows.CommandTag().RowsAffected()
}
