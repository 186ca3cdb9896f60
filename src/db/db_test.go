package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"git.handmade.network/hmn/sqlrt/src/logging"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) Conn {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sdb, err := OpenSQL(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	sdb.SetMaxOpenConns(1)
	t.Cleanup(func() { sdb.Close() })

	conn := SQL(sdb)
	_, err = conn.Exec(context.Background(), `
		CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
		INSERT INTO items (name) VALUES ('a'), ('b'), ('c');
	`)
	require.NoError(t, err)
	return conn
}

func countItems(t *testing.T, conn Conn) int64 {
	t.Helper()
	row, err := conn.FetchOne(context.Background(), `SELECT count(*) FROM items`)
	require.NoError(t, err)
	return row[0].(int64)
}

func TestSQLConn(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)
	assert.Equal(t, SQLite, conn.Dialect())

	t.Run("exec", func(t *testing.T) {
		res, err := conn.Exec(ctx, `INSERT INTO items (name) VALUES (?)`, "d")
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.RowsAffected)
		assert.True(t, res.HasLastInsertID)
		assert.EqualValues(t, 4, res.LastInsertID)

		res, err = conn.Exec(ctx, `DELETE FROM items WHERE name = ?`, "d")
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.RowsAffected)
	})
	t.Run("fetch one", func(t *testing.T) {
		row, err := conn.FetchOne(ctx, `SELECT id, name FROM items ORDER BY id`)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), "a"}, row)

		row, err = conn.FetchOne(ctx, `SELECT id FROM items WHERE name = ?`, "nope")
		require.NoError(t, err)
		assert.Nil(t, row)
	})
	t.Run("fetch all", func(t *testing.T) {
		rows, err := conn.FetchAll(ctx, `SELECT name FROM items ORDER BY id`)
		require.NoError(t, err)
		assert.Equal(t, [][]any{{"a"}, {"b"}, {"c"}}, rows)

		rows, err = conn.FetchAll(ctx, `SELECT name FROM items WHERE 0`)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
	t.Run("stream", func(t *testing.T) {
		cur, err := conn.Stream(ctx, `SELECT name FROM items ORDER BY id`)
		require.NoError(t, err)
		require.True(t, cur.Next())
		vals, err := cur.Values()
		require.NoError(t, err)
		assert.Equal(t, []any{"a"}, vals)
		require.NoError(t, cur.Close())
		require.NoError(t, cur.Close())
		assert.False(t, cur.Next())
		assert.EqualValues(t, 1, cur.RowsAffected())
	})
	t.Run("errors pass through", func(t *testing.T) {
		_, err := conn.Exec(ctx, `INSERT INTO items (name) VALUES (NULL)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOT NULL")
	})
}

func TestTransact(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		conn := openSQLite(t)
		err := Transact(ctx, conn, func(tx Tx) error {
			_, err := tx.Exec(ctx, `DELETE FROM items WHERE name = 'a'`)
			return err
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, countItems(t, conn))
	})
	t.Run("rollback on error", func(t *testing.T) {
		conn := openSQLite(t)
		boom := errors.New("boom")
		err := Transact(ctx, conn, func(tx Tx) error {
			if _, err := tx.Exec(ctx, `DELETE FROM items`); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("rollback on panic", func(t *testing.T) {
		conn := openSQLite(t)
		var logs bytes.Buffer
		logger := zerolog.New(&logs)
		ctx := logging.AttachLoggerToContext(&logger, ctx)
		assert.PanicsWithValue(t, "kaboom", func() {
			Transact(ctx, conn, func(tx Tx) error {
				tx.Exec(ctx, `DELETE FROM items`)
				panic("kaboom")
			})
		})
		assert.EqualValues(t, 3, countItems(t, conn))
		assert.Contains(t, logs.String(), "panic in transaction, rolled back")
		assert.Contains(t, logs.String(), "kaboom")
	})
	t.Run("nested reuse", func(t *testing.T) {
		conn := openSQLite(t)
		err := Transact(ctx, conn, func(outer Tx) error {
			return Transact(ctx, outer, func(inner Tx) error {
				assert.Same(t, outer, inner)
				_, err := inner.Exec(ctx, `DELETE FROM items WHERE name = 'b'`)
				return err
			})
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, countItems(t, conn))
	})
	t.Run("nested failure rolls back everything", func(t *testing.T) {
		conn := openSQLite(t)
		boom := errors.New("boom")
		err := Transact(ctx, conn, func(outer Tx) error {
			if _, err := outer.Exec(ctx, `DELETE FROM items WHERE name = 'a'`); err != nil {
				return err
			}
			return Transact(ctx, outer, func(inner Tx) error {
				return boom
			})
		})
		assert.ErrorIs(t, err, boom)
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("savepoints", func(t *testing.T) {
		conn := openSQLite(t)
		err := Transact(ctx, conn, func(tx Tx) error {
			sp, err := tx.Begin(ctx)
			require.NoError(t, err)
			_, err = sp.Exec(ctx, `DELETE FROM items`)
			require.NoError(t, err)
			require.NoError(t, sp.Rollback(ctx))
			assert.ErrorIs(t, sp.Commit(ctx), ErrTxDone)
			return nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("resolved twice", func(t *testing.T) {
		conn := openSQLite(t)
		tx, err := conn.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		assert.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
	})
	t.Run("TransactResult", func(t *testing.T) {
		conn := openSQLite(t)
		n, err := TransactResult(ctx, conn, func(tx Tx) (int64, error) {
			res, err := tx.Exec(ctx, `DELETE FROM items WHERE name <> 'a'`)
			return res.RowsAffected, err
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})
	t.Run("wrapping an open sqlx transaction", func(t *testing.T) {
		conn := openSQLite(t)
		raw := conn.(*sqlConn).c.(*sqlx.DB)
		sqlxTx, err := raw.Beginx()
		require.NoError(t, err)
		wrapped := SQL(sqlxTx)
		assert.True(t, InTransaction(wrapped))

		err = Transact(ctx, wrapped, func(tx Tx) error {
			_, err := tx.Exec(ctx, `DELETE FROM items`)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, sqlxTx.Rollback())
		assert.EqualValues(t, 3, countItems(t, conn))
	})
}

func TestAsync(t *testing.T) {
	ctx := context.Background()

	t.Run("futures", func(t *testing.T) {
		a := Async(openSQLite(t))
		row, err := a.FetchOne(ctx, `SELECT name FROM items WHERE id = ?`, 2).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, []any{"b"}, row)

		rows, err := a.FetchAll(ctx, `SELECT name FROM items ORDER BY id`).Await(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 3)

		res, err := a.Exec(ctx, `DELETE FROM items WHERE id = ?`, 1).Await(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.RowsAffected)
	})
	t.Run("stream drained", func(t *testing.T) {
		a := Async(openSQLite(t))
		rows, err := a.Stream(ctx, `SELECT name FROM items ORDER BY id`).Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, [][]any{{"a"}, {"b"}, {"c"}}, rows)
	})
	t.Run("stream closed early", func(t *testing.T) {
		conn := openSQLite(t)
		s := Async(conn).Stream(ctx, `SELECT name FROM items ORDER BY id`)
		first, ok := s.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, []any{"a"}, first)
		require.NoError(t, s.Close())

		// The connection is free again once Close returns.
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("stream error", func(t *testing.T) {
		s := Async(openSQLite(t)).Stream(ctx, `SELECT nope FROM items`)
		_, ok := s.Next(ctx)
		assert.False(t, ok)
		assert.Error(t, s.Err())
		assert.Error(t, s.Close())
	})
	t.Run("transact", func(t *testing.T) {
		conn := openSQLite(t)
		err := waitErr(Async(conn).Transact(ctx, func(tx *AsyncConn) error {
			assert.True(t, tx.InTransaction())
			_, err := tx.Exec(ctx, `DELETE FROM items`).Await(ctx)
			if err != nil {
				return err
			}
			return errors.New("changed my mind")
		}))
		assert.Error(t, err)
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("shutdown", func(t *testing.T) {
		a := Async(openSQLite(t))
		release := make(chan struct{})
		Run(ctx, a, "blocked", func(ctx context.Context, conn Conn) (int, error) {
			<-release
			return 0, nil
		})
		s := a.Stream(ctx, `SELECT name FROM items ORDER BY id`)
		_, ok := s.Next(ctx)
		require.True(t, ok)

		assert.Equal(t, []string{"blocked"}, a.Shutdown(100*time.Millisecond))
		_, ok = s.Next(ctx)
		assert.False(t, ok, "streams are stopped")
		assert.Empty(t, a.Shutdown(time.Second), "nothing is tracked twice")
		close(release)
	})
	t.Run("panics become errors", func(t *testing.T) {
		f := Go(ctx, "panicky", func(ctx context.Context) (int, error) {
			panic("oh no")
		})
		_, err := f.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oh no")
	})
	t.Run("await respects context", func(t *testing.T) {
		release := make(chan struct{})
		f := Go(ctx, "slow", func(ctx context.Context) (int, error) {
			<-release
			return 7, nil
		})
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := f.Await(short)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		v, err := f.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})
}

func TestSendBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("in order", func(t *testing.T) {
		conn := openSQLite(t)
		stmts := []BatchStatement{
			{SQL: `DELETE FROM items WHERE id = ?`, Args: []any{1}},
			{SQL: `SELECT name FROM items ORDER BY id`},
			{SQL: `SELECT name FROM items WHERE id = ?`, Args: []any{3}},
		}
		err := SendBatch(ctx, conn, stmts, func(br BatchResults) error {
			res, err := br.Exec()
			require.NoError(t, err)
			assert.EqualValues(t, 1, res.RowsAffected)

			rows, err := br.FetchAll()
			require.NoError(t, err)
			assert.Equal(t, [][]any{{"b"}, {"c"}}, rows)

			row, err := br.FetchOne()
			require.NoError(t, err)
			assert.Equal(t, []any{"c"}, row)

			_, err = br.Exec()
			assert.Error(t, err, "the batch is exhausted")
			return nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, countItems(t, conn))
	})
	t.Run("failure rolls back", func(t *testing.T) {
		conn := openSQLite(t)
		stmts := []BatchStatement{
			{SQL: `DELETE FROM items WHERE id = ?`, Args: []any{1}},
			{SQL: `SELECT nope FROM items`},
			{SQL: `DELETE FROM items WHERE id = ?`, Args: []any{2}},
		}
		var errs []error
		err := SendBatch(ctx, conn, stmts, func(br BatchResults) error {
			_, err := br.Exec()
			errs = append(errs, err)
			_, err = br.FetchAll()
			errs = append(errs, err)
			_, err = br.Exec()
			errs = append(errs, err)
			return nil
		})
		require.Error(t, err, "closing reports the failure")
		require.Len(t, errs, 3)
		assert.NoError(t, errs[0])
		assert.Error(t, errs[1])
		assert.Equal(t, errs[1], errs[2])
		assert.EqualValues(t, 3, countItems(t, conn))
	})
	t.Run("empty", func(t *testing.T) {
		called := false
		err := SendBatch(ctx, &sqlConn{}, nil, func(br BatchResults) error {
			called = true
			return nil
		})
		assert.NoError(t, err)
		assert.False(t, called)
	})
}

func waitErr[T any](f *Future[T]) error {
	_, err := f.Wait()
	return err
}

func TestGetQueryName(t *testing.T) {
	name, ok := GetQueryName("-- name: GetAuthor :one\nSELECT 1")
	assert.True(t, ok)
	assert.Equal(t, "GetAuthor", name)

	_, ok = GetQueryName("SELECT 1")
	assert.False(t, ok)
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, "dollar", DialectFor("postgres").BindTypeName())
	assert.Equal(t, "question", DialectFor("sqlite3").BindTypeName())
	assert.False(t, DialectFor("mysql").MultiStatement)
	assert.Equal(t, "at", DialectFor("sqlserver").BindTypeName())
}
