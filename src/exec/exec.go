/*
Package exec runs query definitions and shapes their results by cardinality.
Generated code holds one Accessor per query and calls the method matching the
query's cardinality:

	:one         One         *T, or nil when there is no row
	:many        Many / All  an Iterator, or a slice
	:exec        Exec        error only
	:execresult  ExecResult  rows affected, plus returned rows
	:execrows    ExecRows    rows affected
	:execlastid  ExecLastID  the inserted id
	:copyfrom    CopyFrom    rows loaded
	:batch*      BatchExec / BatchOne / BatchMany, one result per argument row

Calling a method that does not match the definition's cardinality fails with
ErrCardinality before anything is sent to the database.

Accessors take the connection on every call, so the same accessor works on a
pool, a single connection or a transaction:

	var getAuthor = exec.MustFor[Author](GetAuthorQuery)

	author, err := getAuthor.One(ctx, conn, id)
	if author == nil {
		// not found
	}
*/
package exec

import (
	"context"
	"errors"
	"reflect"

	"git.handmade.network/hmn/sqlrt/src/bind"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
	"git.handmade.network/hmn/sqlrt/src/rowmap"
)

var (
	ErrCardinality    = errors.New("query called with the wrong cardinality")
	ErrIteratorClosed = errors.New("iterator already closed")
)

// The row type of accessors for statements that return no rows.
type NoRow struct{}

type Accessor[T any] struct {
	def  *query.Definition
	plan *rowmap.Plan[T]
}

// Prepares an accessor that maps rows into T. The row mapping plan is built
// here, so a T that does not fit the query's columns fails immediately.
func For[T any](def *query.Definition) (*Accessor[T], error) {
	a := &Accessor[T]{def: def}
	if len(def.Columns) > 0 && reflect.TypeFor[T]() != reflect.TypeFor[NoRow]() {
		plan, err := rowmap.For[T](def)
		if err != nil {
			return nil, err
		}
		a.plan = plan
	}
	return a, nil
}

func MustFor[T any](def *query.Definition) *Accessor[T] {
	a, err := For[T](def)
	if err != nil {
		panic(err)
	}
	return a
}

// An accessor for statements whose rows, if any, are not wanted.
func Command(def *query.Definition) *Accessor[NoRow] {
	return MustFor[NoRow](def)
}

func (a *Accessor[T]) Definition() *query.Definition {
	return a.def
}

func (a *Accessor[T]) checkCardinality(card query.Cardinality) error {
	if a.def.Cardinality != card {
		return oops.New(ErrCardinality, "%s is :%s, not :%s", a.def.Name, a.def.Cardinality, card)
	}
	if card.ReturnsRows() && card != query.ExecResult && a.plan == nil {
		return oops.New(ErrCardinality, "%s returns rows but its accessor has no row type", a.def.Name)
	}
	return nil
}

func (a *Accessor[T]) prepare(ctx context.Context, conn db.Conn, card query.Cardinality, args []any) (bind.Bound, error) {
	if err := a.checkCardinality(card); err != nil {
		return bind.Bound{}, err
	}

	logging.ExtractLogger(ctx).Debug().
		Str("query", a.def.Name).
		Stringer("cardinality", a.def.Cardinality).
		Bool("tx", db.InTransaction(conn)).
		Msg("Executing query")

	return bind.Bind(a.def, conn.Dialect(), args)
}

func (a *Accessor[T]) fail(err error) error {
	return oops.New(err, "%s failed", a.def.Name)
}

// Returns the first row, or nil if there are none. Extra rows are ignored.
func (a *Accessor[T]) One(ctx context.Context, conn db.Conn, args ...any) (*T, error) {
	b, err := a.prepare(ctx, conn, query.One, args)
	if err != nil {
		return nil, err
	}

	raw, err := conn.FetchOne(ctx, b.SQL, b.Args...)
	if err != nil {
		return nil, a.fail(err)
	}
	if raw == nil {
		return nil, nil
	}

	res, err := a.plan.Map(raw)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Opens an iterator over the result rows. It must be read to the end or
// closed. It is also closed when ctx ends.
func (a *Accessor[T]) Many(ctx context.Context, conn db.Conn, args ...any) (*Iterator[T], error) {
	b, err := a.prepare(ctx, conn, query.Many, args)
	if err != nil {
		return nil, err
	}

	cur, err := conn.Stream(ctx, b.SQL, b.Args...)
	if err != nil {
		return nil, a.fail(err)
	}
	return newIterator(ctx, a.def, a.plan, cur), nil
}

// Reads every row into a slice. The slice is empty, not nil, when there are
// no rows.
func (a *Accessor[T]) All(ctx context.Context, conn db.Conn, args ...any) ([]T, error) {
	b, err := a.prepare(ctx, conn, query.Many, args)
	if err != nil {
		return nil, err
	}

	rows, err := conn.FetchAll(ctx, b.SQL, b.Args...)
	if err != nil {
		return nil, a.fail(err)
	}

	res := make([]T, 0, len(rows))
	for _, raw := range rows {
		v, err := a.plan.Map(raw)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func (a *Accessor[T]) Exec(ctx context.Context, conn db.Conn, args ...any) error {
	b, err := a.prepare(ctx, conn, query.Exec, args)
	if err != nil {
		return err
	}

	if _, err := conn.Exec(ctx, b.SQL, b.Args...); err != nil {
		return a.fail(err)
	}
	return nil
}

type Result[T any] struct {
	RowsAffected int64
	// Set only by drivers that report it.
	LastInsertID int64
	// The rows returned by a RETURNING clause. Empty for statements without
	// one.
	Rows []T
}

/*
Executes the statement and reports how many rows it affected. If the query
declares output columns (a RETURNING clause), the returned rows are read and
mapped as well.
*/
func (a *Accessor[T]) ExecResult(ctx context.Context, conn db.Conn, args ...any) (*Result[T], error) {
	b, err := a.prepare(ctx, conn, query.ExecResult, args)
	if err != nil {
		return nil, err
	}

	if a.plan == nil {
		res, err := conn.Exec(ctx, b.SQL, b.Args...)
		if err != nil {
			return nil, a.fail(err)
		}
		return &Result[T]{RowsAffected: res.RowsAffected, LastInsertID: res.LastInsertID}, nil
	}

	cur, err := conn.Stream(ctx, b.SQL, b.Args...)
	if err != nil {
		return nil, a.fail(err)
	}

	res := &Result[T]{}
	var mapErr error
	for cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			mapErr = a.fail(err)
			break
		}
		v, err := a.plan.Map(vals)
		if err != nil {
			mapErr = err
			break
		}
		res.Rows = append(res.Rows, v)
	}
	if err := cur.Close(); err != nil {
		return nil, errors.Join(mapErr, a.fail(err))
	}
	if mapErr != nil {
		return nil, mapErr
	}
	res.RowsAffected = cur.RowsAffected()
	return res, nil
}

func (a *Accessor[T]) ExecRows(ctx context.Context, conn db.Conn, args ...any) (int64, error) {
	b, err := a.prepare(ctx, conn, query.ExecRows, args)
	if err != nil {
		return 0, err
	}

	res, err := conn.Exec(ctx, b.SQL, b.Args...)
	if err != nil {
		return 0, a.fail(err)
	}
	return res.RowsAffected, nil
}

// Returns the id the driver reports for the inserted row. Postgres drivers
// do not report one; use RETURNING with One there instead.
func (a *Accessor[T]) ExecLastID(ctx context.Context, conn db.Conn, args ...any) (int64, error) {
	b, err := a.prepare(ctx, conn, query.ExecLastID, args)
	if err != nil {
		return 0, err
	}

	res, err := conn.Exec(ctx, b.SQL, b.Args...)
	if err != nil {
		return 0, a.fail(err)
	}
	if !res.HasLastInsertID {
		return 0, oops.New(db.ErrUnsupported, "%s: %s does not report inserted ids", a.def.Name, conn.Dialect().Name)
	}
	return res.LastInsertID, nil
}

/*
Loads rows into the definition's table. Each row holds one value per declared
parameter, in declaration order, and is checked like the arguments of any
other call.

Connections that support bulk copy (pgx) use it. Others run the definition's
INSERT statement once per row inside a transaction.
*/
func (a *Accessor[T]) CopyFrom(ctx context.Context, conn db.Conn, rows [][]any) (int64, error) {
	if a.def.Cardinality != query.CopyFrom {
		return 0, oops.New(ErrCardinality, "%s is :%s, not :%s", a.def.Name, a.def.Cardinality, query.CopyFrom)
	}

	logging.ExtractLogger(ctx).Debug().
		Str("query", a.def.Name).
		Int("rows", len(rows)).
		Msg("Copying rows")

	bound := make([]bind.Bound, len(rows))
	for i, row := range rows {
		b, err := bind.Bind(a.def, conn.Dialect(), row)
		if err != nil {
			return 0, oops.New(err, "row %d", i)
		}
		bound[i] = b
	}

	if copier, ok := conn.(db.Copier); ok {
		columns := make([]string, len(a.def.Params))
		for i, p := range a.def.Params {
			columns[i] = p.Name
		}
		values := make([][]any, len(bound))
		for i, b := range bound {
			values[i] = b.Args
		}
		n, err := copier.CopyFrom(ctx, a.def.Table, columns, values)
		if err != nil {
			return 0, a.fail(err)
		}
		return n, nil
	}

	if len(bound) == 0 {
		return 0, nil
	}
	if !hasStatement(a.def) {
		return 0, oops.New(db.ErrUnsupported, "%s: %s has no bulk copy and the query has no INSERT to fall back on", a.def.Name, conn.Dialect().Name)
	}

	return db.TransactResult(ctx, conn, func(tx db.Tx) (int64, error) {
		var total int64
		for _, b := range bound {
			res, err := tx.Exec(ctx, b.SQL, b.Args...)
			if err != nil {
				return 0, a.fail(err)
			}
			total += res.RowsAffected
		}
		return total, nil
	})
}
