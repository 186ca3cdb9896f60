package authors

import (
	"context"

	"git.handmade.network/hmn/sqlrt/src/bind"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/exec"
	"git.handmade.network/hmn/sqlrt/src/query"
)

// AsyncQueries is the non-blocking form of Queries.
type AsyncQueries struct {
	conn *db.AsyncConn
}

func NewAsync(conn *db.AsyncConn) *AsyncQueries {
	return &AsyncQueries{conn: conn}
}

func (q *AsyncQueries) CreateAuthor(ctx context.Context, name string, bio query.Null[string], mood Mood) *db.Future[*Author] {
	return createAuthor.Async().One(ctx, q.conn, name, bio, mood)
}

func (q *AsyncQueries) CreateAuthorNamed(ctx context.Context, arg CreateAuthorNamedParams) *db.Future[*Author] {
	args, err := bind.Struct(CreateAuthorNamedQuery, arg)
	if err != nil {
		return db.Resolved[*Author](nil, err)
	}
	return createAuthorNamed.Async().One(ctx, q.conn, args...)
}

func (q *AsyncQueries) GetAuthor(ctx context.Context, id int64) *db.Future[*Author] {
	return getAuthor.Async().One(ctx, q.conn, id)
}

func (q *AsyncQueries) ListAuthors(ctx context.Context) *db.Stream[Author] {
	return listAuthors.Async().Many(ctx, q.conn)
}

func (q *AsyncQueries) CountAuthors(ctx context.Context) *db.Future[int64] {
	return db.Run(ctx, q.conn, CountAuthorsQuery.Name, func(ctx context.Context, c db.Conn) (int64, error) {
		return New(c).CountAuthors(ctx)
	})
}

func (q *AsyncQueries) DeleteAuthor(ctx context.Context, id int64) *db.Future[struct{}] {
	return deleteAuthor.Async().Exec(ctx, q.conn, id)
}

func (q *AsyncQueries) DeleteAuthorsByName(ctx context.Context, name string) *db.Future[*exec.Result[exec.NoRow]] {
	return deleteAuthorsByName.Async().ExecResult(ctx, q.conn, name)
}

func (q *AsyncQueries) UpdateAuthorBio(ctx context.Context, id int64, bio query.Null[string]) *db.Future[int64] {
	return updateAuthorBio.Async().ExecRows(ctx, q.conn, id, bio)
}

// Runs fn in a transaction. fn gets an AsyncQueries bound to it.
func (q *AsyncQueries) Transact(ctx context.Context, fn func(tx *AsyncQueries) error) *db.Future[struct{}] {
	return q.conn.Transact(ctx, func(tx *db.AsyncConn) error {
		return fn(NewAsync(tx))
	})
}
