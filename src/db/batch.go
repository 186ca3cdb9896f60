package db

import (
	"context"
	"errors"
)

var errBatchExhausted = errors.New("no more results in batch")

/*
Sends stmts as one batch and hands the results to read, which must read them
in order. Connections that implement Batcher pipeline the whole batch. On
others the statements run one at a time inside a transaction, each when read
asks for its result, and nothing after a failed statement is run.

Either way the batch is atomic. The error returned by read wins over the
error from closing the batch.
*/
func SendBatch(ctx context.Context, conn Conn, stmts []BatchStatement, read func(br BatchResults) error) error {
	if len(stmts) == 0 {
		return nil
	}
	if b, ok := conn.(Batcher); ok {
		return readBatch(b.SendBatch(ctx, stmts), read)
	}
	return Transact(ctx, conn, func(tx Tx) error {
		return readBatch(&sequentialBatch{ctx: ctx, conn: tx, stmts: stmts}, read)
	})
}

func readBatch(br BatchResults, read func(br BatchResults) error) error {
	err := read(br)
	if closeErr := br.Close(); err == nil {
		err = closeErr
	}
	return err
}

type sequentialBatch struct {
	ctx   context.Context
	conn  Conn
	stmts []BatchStatement
	next  int
	err   error
}

var _ BatchResults = &sequentialBatch{}

func (b *sequentialBatch) take() (BatchStatement, error) {
	if b.err != nil {
		return BatchStatement{}, b.err
	}
	if b.next >= len(b.stmts) {
		return BatchStatement{}, errBatchExhausted
	}
	stmt := b.stmts[b.next]
	b.next++
	return stmt, nil
}

func (b *sequentialBatch) Exec() (Result, error) {
	stmt, err := b.take()
	if err != nil {
		return Result{}, err
	}
	res, err := b.conn.Exec(b.ctx, stmt.SQL, stmt.Args...)
	b.err = err
	return res, err
}

func (b *sequentialBatch) FetchOne() ([]any, error) {
	stmt, err := b.take()
	if err != nil {
		return nil, err
	}
	row, err := b.conn.FetchOne(b.ctx, stmt.SQL, stmt.Args...)
	b.err = err
	return row, err
}

func (b *sequentialBatch) FetchAll() ([][]any, error) {
	stmt, err := b.take()
	if err != nil {
		return nil, err
	}
	rows, err := b.conn.FetchAll(b.ctx, stmt.SQL, stmt.Args...)
	b.err = err
	return rows, err
}

// Unread statements are never run.
func (b *sequentialBatch) Close() error {
	b.next = len(b.stmts)
	return b.err
}
