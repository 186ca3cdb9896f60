/*
This package is the connection layer that generated query accessors run on. It
hides the differences between pgx (single connections, pools and transactions)
and database/sql drivers (lib/pq, go-sqlite3, go-sql-driver/mysql) behind one
small interface, Conn.

Conn has four operations, plus Begin:

	Exec      execute for effect, returning rows affected
	FetchOne  the first row, or nil if there is none
	FetchAll  every row
	Stream    a cursor that must be closed

Rows come back as raw []any values, in column order. Mapping them to Go types
is the job of the rowmap package.

Connections

Wrap whatever handle you already have:

	pool, err := db.NewConnPool(ctx)
	if err != nil {
		return err
	}
	conn := db.Pgx(pool)

	sqlite, err := db.OpenSQL(ctx, "sqlite3", "file:test.db")
	if err != nil {
		return err
	}
	conn := db.SQL(sqlite)

Transactions

Transact runs a function inside a transaction and resolves it on every exit
path: it commits if the function returns nil and rolls back on an error or a
panic. If the connection passed in is already a transaction, the function runs
in that same transaction and nothing is committed until the outer Transact
finishes. This means helpers can always call Transact without caring whether
they are already inside one.

	err := db.Transact(ctx, conn, func(tx db.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM authors WHERE id = $1`, id); err != nil {
			return err
		}
		return moveBooks(ctx, tx, id) // may call Transact again
	})

A Conn with an open transaction must not be used from more than one goroutine
at a time. Nothing here locks on your behalf.

Async

AsyncConn exposes the same operations without blocking the caller. Each call
returns a Future, and Stream returns an AsyncCursor whose rows arrive on a
channel. Async calls run the same code as the blocking ones, on a goroutine.
Shutdown stops open streams and waits for outstanding calls.

Batches

SendBatch runs many statements as one unit. pgx connections pipeline them in
a single round trip; other connections run them one by one in a transaction.
*/
package db
