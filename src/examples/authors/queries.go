/*
Package authors shows what generated code on top of sqlrt looks like: query
definitions registered with query.Default, a row type per result shape, and
thin Queries wrappers that pass a connection to the accessors.

The statements are written once in Postgres syntax and run unchanged on
SQLite, since the binder rewrites placeholders for each transport.
*/
package authors

import (
	"context"
	"time"

	"git.handmade.network/hmn/sqlrt/src/bind"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/exec"
	"git.handmade.network/hmn/sqlrt/src/query"
)

type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodNeutral Mood = "neutral"
	MoodSad     Mood = "sad"
)

var moods = query.Values(string(MoodHappy), string(MoodNeutral), string(MoodSad))

type Author struct {
	ID        int64              `db:"id"`
	Name      string             `db:"name"`
	Bio       query.Null[string] `db:"bio"`
	Mood      Mood               `db:"mood"`
	CreatedAt time.Time          `db:"created_at"`
}

func authorColumns(b *query.Builder) *query.Builder {
	return b.
		Column("id", query.Int).
		Column("name", query.Text).
		Column("bio", query.Text, query.Nullable()).
		Column("mood", query.Enum).
		Column("created_at", query.Timestamp)
}

var (
	CreateAuthorQuery = authorColumns(query.New("CreateAuthor", query.One, `
		INSERT INTO authors (name, bio, mood) VALUES ($1, $2, $3)
		RETURNING id, name, bio, mood, created_at`).
		Param("name", query.Text).
		Param("bio", query.Text, query.Nullable()).
		Param("mood", query.Enum, moods)).
		MustBuild()

	CreateAuthorNamedQuery = authorColumns(query.New("CreateAuthorNamed", query.One, `
		INSERT INTO authors (name, bio) VALUES (:name, :bio)
		RETURNING id, name, bio, mood, created_at`).
		Named().
		Param("name", query.Text).
		Param("bio", query.Text, query.Nullable())).
		MustBuild()

	GetAuthorQuery = authorColumns(query.New("GetAuthor", query.One, `
		SELECT id, name, bio, mood, created_at FROM authors
		WHERE id = $1`).
		Param("id", query.Int)).
		MustBuild()

	ListAuthorsQuery = authorColumns(query.New("ListAuthors", query.Many, `
		SELECT id, name, bio, mood, created_at FROM authors
		ORDER BY name, id`)).
		MustBuild()

	// Postgres only: arrays have no SQLite encoding.
	ListAuthorsByIDsQuery = authorColumns(query.New("ListAuthorsByIDs", query.Many, `
		SELECT id, name, bio, mood, created_at FROM authors
		WHERE id = ANY($1)
		ORDER BY id`).
		Param("ids", query.Int, query.Array())).
		MustBuild()

	CountAuthorsQuery = query.New("CountAuthors", query.One, `SELECT count(*) FROM authors`).
		Column("count", query.Int).
		MustBuild()

	DeleteAuthorQuery = query.New("DeleteAuthor", query.Exec, `DELETE FROM authors WHERE id = $1`).
		Param("id", query.Int).
		MustBuild()

	DeleteAuthorsByNameQuery = query.New("DeleteAuthorsByName", query.ExecResult, `DELETE FROM authors WHERE name = $1`).
		Param("name", query.Text).
		MustBuild()

	UpdateAuthorBioQuery = query.New("UpdateAuthorBio", query.ExecRows, `UPDATE authors SET bio = $2 WHERE id = $1`).
		Param("id", query.Int).
		Param("bio", query.Text, query.Nullable()).
		MustBuild()

	InsertAuthorsQuery = query.New("InsertAuthors", query.CopyFrom, `INSERT INTO authors (name, bio) VALUES ($1, $2)`).
		Table("authors").
		Param("name", query.Text).
		Param("bio", query.Text, query.Nullable()).
		MustBuild()

	GetAuthorBatchQuery = authorColumns(query.New("GetAuthorBatch", query.BatchOne, `
		SELECT id, name, bio, mood, created_at FROM authors
		WHERE id = $1`).
		Param("id", query.Int)).
		MustBuild()

	DeleteAuthorBatchQuery = query.New("DeleteAuthorBatch", query.BatchExec, `DELETE FROM authors WHERE id = $1`).
		Param("id", query.Int).
		MustBuild()
)

func init() {
	query.Default.MustRegister(
		CreateAuthorQuery,
		CreateAuthorNamedQuery,
		GetAuthorQuery,
		ListAuthorsQuery,
		ListAuthorsByIDsQuery,
		CountAuthorsQuery,
		DeleteAuthorQuery,
		DeleteAuthorsByNameQuery,
		UpdateAuthorBioQuery,
		InsertAuthorsQuery,
		GetAuthorBatchQuery,
		DeleteAuthorBatchQuery,
	)
}

var (
	createAuthor        = exec.MustFor[Author](CreateAuthorQuery)
	createAuthorNamed   = exec.MustFor[Author](CreateAuthorNamedQuery)
	getAuthor           = exec.MustFor[Author](GetAuthorQuery)
	listAuthors         = exec.MustFor[Author](ListAuthorsQuery)
	listAuthorsByIDs    = exec.MustFor[Author](ListAuthorsByIDsQuery)
	countAuthors        = exec.MustFor[int64](CountAuthorsQuery)
	deleteAuthor        = exec.Command(DeleteAuthorQuery)
	deleteAuthorsByName = exec.Command(DeleteAuthorsByNameQuery)
	updateAuthorBio     = exec.Command(UpdateAuthorBioQuery)
	insertAuthors       = exec.Command(InsertAuthorsQuery)
	getAuthorBatch      = exec.MustFor[Author](GetAuthorBatchQuery)
	deleteAuthorBatch   = exec.Command(DeleteAuthorBatchQuery)
)

type CreateAuthorNamedParams struct {
	Name string             `db:"name"`
	Bio  query.Null[string] `db:"bio"`
}

type InsertAuthorsParams struct {
	Name string
	Bio  query.Null[string]
}

// Queries runs the author queries on one connection, pool or transaction.
type Queries struct {
	conn db.Conn
}

func New(conn db.Conn) *Queries {
	return &Queries{conn: conn}
}

// The same queries, run inside tx.
func (q *Queries) WithTx(tx db.Tx) *Queries {
	return &Queries{conn: tx}
}

func (q *Queries) Conn() db.Conn {
	return q.conn
}

func (q *Queries) CreateAuthor(ctx context.Context, name string, bio query.Null[string], mood Mood) (*Author, error) {
	return createAuthor.One(ctx, q.conn, name, bio, mood)
}

func (q *Queries) CreateAuthorNamed(ctx context.Context, arg CreateAuthorNamedParams) (*Author, error) {
	args, err := bind.Struct(CreateAuthorNamedQuery, arg)
	if err != nil {
		return nil, err
	}
	return createAuthorNamed.One(ctx, q.conn, args...)
}

// Returns nil if there is no such author.
func (q *Queries) GetAuthor(ctx context.Context, id int64) (*Author, error) {
	return getAuthor.One(ctx, q.conn, id)
}

func (q *Queries) ListAuthors(ctx context.Context) (*exec.Iterator[Author], error) {
	return listAuthors.Many(ctx, q.conn)
}

func (q *Queries) ListAuthorsByIDs(ctx context.Context, ids []int64) ([]Author, error) {
	return listAuthorsByIDs.All(ctx, q.conn, ids)
}

func (q *Queries) CountAuthors(ctx context.Context) (int64, error) {
	n, err := countAuthors.One(ctx, q.conn)
	if err != nil || n == nil {
		return 0, err
	}
	return *n, nil
}

func (q *Queries) DeleteAuthor(ctx context.Context, id int64) error {
	return deleteAuthor.Exec(ctx, q.conn, id)
}

func (q *Queries) DeleteAuthorsByName(ctx context.Context, name string) (*exec.Result[exec.NoRow], error) {
	return deleteAuthorsByName.ExecResult(ctx, q.conn, name)
}

func (q *Queries) UpdateAuthorBio(ctx context.Context, id int64, bio query.Null[string]) (int64, error) {
	return updateAuthorBio.ExecRows(ctx, q.conn, id, bio)
}

func (q *Queries) InsertAuthors(ctx context.Context, arg []InsertAuthorsParams) (int64, error) {
	rows := make([][]any, len(arg))
	for i, a := range arg {
		rows[i] = []any{a.Name, a.Bio}
	}
	return insertAuthors.CopyFrom(ctx, q.conn, rows)
}

func idRows(ids []int64) [][]any {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	return rows
}

// Fetches every author in one round trip where the connection allows it. f
// gets a nil author for ids that do not exist.
func (q *Queries) GetAuthorBatch(ctx context.Context, ids []int64, f func(i int, author *Author, err error)) error {
	return getAuthorBatch.BatchOne(ctx, q.conn, idRows(ids), f)
}

func (q *Queries) DeleteAuthorBatch(ctx context.Context, ids []int64, f func(i int, err error)) error {
	return deleteAuthorBatch.BatchExec(ctx, q.conn, idRows(ids), f)
}
