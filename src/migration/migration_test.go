package migration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/perf"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(contents), 0644))
	}
}

func openSQLite(t *testing.T) db.Conn {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sdb, err := db.OpenSQL(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	sdb.SetMaxOpenConns(1)
	t.Cleanup(func() { sdb.Close() })
	return db.SQL(sdb)
}

func tableExists(t *testing.T, conn db.Conn, name string) bool {
	t.Helper()
	row, err := conn.FetchOne(context.Background(), `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	require.NoError(t, err)
	return row != nil
}

func TestResolve(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/b.sql":           "",
		"/m/a.sql":           "",
		"/m/.hidden.sql":     "",
		"/m/notes.txt":       "",
		"/m/0001.down.sql":   "",
		"/m/nested/c.sql":    "",
		"/other/0_first.sql": "",
		"/other/readme.md":   "",
	})

	t.Run("directory", func(t *testing.T) {
		files, err := Resolve(fs, []string{"/m"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/m/a.sql", "/m/b.sql"}, files)
	})
	t.Run("sorted across sources", func(t *testing.T) {
		files, err := Resolve(fs, []string{"/other", "/m"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/m/a.sql", "/m/b.sql", "/other/0_first.sql"}, files)
	})
	t.Run("files and duplicates", func(t *testing.T) {
		files, err := Resolve(fs, []string{"/m/b.sql", "/m", "/m/./a.sql", "/m/nested/c.sql"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/m/a.sql", "/m/b.sql", "/m/nested/c.sql"}, files)
	})
	t.Run("filters apply to named files", func(t *testing.T) {
		files, err := Resolve(fs, []string{"/m/.hidden.sql", "/m/notes.txt", "/m/0001.down.sql"})
		require.NoError(t, err)
		assert.Empty(t, files)
	})
	t.Run("missing path", func(t *testing.T) {
		files, err := Resolve(fs, []string{"/m", "/nope"})
		assert.ErrorIs(t, err, ErrSourceNotFound)
		assert.Contains(t, err.Error(), "path /nope does not exist")
		assert.Nil(t, files)
	})
}

func TestRemoveRollbackStatements(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"goose", "-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;", "-- +goose Up\nCREATE TABLE a (id int);"},
		{"sql-migrate", "CREATE TABLE a (id int);\n-- +migrate Down\nDROP TABLE a;", "CREATE TABLE a (id int);"},
		{"tern", "CREATE TABLE a (id int);\n---- create above / drop below ----\nDROP TABLE a;", "CREATE TABLE a (id int);"},
		{"dbmate", "-- migrate:up\nCREATE TABLE a (id int);\n-- migrate:down\nDROP TABLE a;", "-- migrate:up\nCREATE TABLE a (id int);"},
		{"case insensitive", "CREATE TABLE a (id int);\n-- +GOOSE DOWN\nDROP TABLE a;", "CREATE TABLE a (id int);"},
		{"marker first", "-- +goose Down\nDROP TABLE a;", ""},
		{"no marker", "CREATE TABLE a (id int);\n", "CREATE TABLE a (id int);\n"},
		{"indented marker is not a marker", "CREATE TABLE a (id int);\n  -- +goose Down\n", "CREATE TABLE a (id int);\n  -- +goose Down\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, RemoveRollbackStatements(c.input))
		})
	}
}

func TestExpandIncludes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/shared/tables.sql": "CREATE TABLE shared (id INTEGER);",
		"/m/1_base.sql":        "{{ template \"shared/tables.sql\" . }}\nCREATE TABLE own (id INTEGER);\n---- create above / drop below ----\n{{ template \"missing.sql\" . }}",
		"/bad/1_broken.sql":    "{{ template \"nowhere.sql\" . }}",
	})

	migrations, err := Load(fs, []string{"/m"})
	require.NoError(t, err, "includes in rollback sections are never read")
	require.Len(t, migrations, 1)
	assert.Equal(t, "CREATE TABLE shared (id INTEGER);\nCREATE TABLE own (id INTEGER);", migrations[0].SQL)

	_, err = Load(fs, []string{"/bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere.sql")

	plain := "SELECT '{{ not a template }}';"
	out, err := ExpandIncludes(fs, "/m", plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("single")
	require.NoError(t, err)
	assert.Equal(t, SingleBatch, s)

	s, err = ParseStrategy(" Split ")
	require.NoError(t, err)
	assert.Equal(t, Split, s)
	assert.Equal(t, "split", s.String())

	_, err = ParseStrategy("sometimes")
	assert.Error(t, err)
}

var schemaFiles = map[string]string{
	"/schema/001_authors.sql": `
		CREATE TABLE authors (
			id   INTEGER PRIMARY KEY,
			name TEXT NOT NULL CHECK (name <> ''),
			bio  TEXT
		);
		-- a comment; with a semicolon
		INSERT INTO authors (name, bio) VALUES ('Ursula', 'wrote; a lot');
	`,
	"/schema/002_books.sql": `
-- +goose Up
CREATE TABLE books (id INTEGER PRIMARY KEY, author_id INTEGER REFERENCES authors (id));
/* block; comment */
INSERT INTO books (author_id) VALUES (1);
-- +goose Down
DROP TABLE authors;
`,
	"/schema/002_books.down.sql": `DROP TABLE books;`,
}

func TestApply(t *testing.T) {
	for _, strategy := range []Strategy{SingleBatch, Split} {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			fs := afero.NewMemMapFs()
			writeFiles(t, fs, schemaFiles)
			conn := openSQLite(t)

			applier := &Applier{Fs: fs, Strategy: strategy}
			migrations, err := applier.Apply(ctx, conn, "/schema")
			require.NoError(t, err)
			require.Len(t, migrations, 2)
			for _, m := range migrations {
				assert.Equal(t, Applied, m.State, m.Path)
			}
			assert.Equal(t, "001_authors.sql", migrations[0].Name())

			row, err := conn.FetchOne(ctx, `SELECT bio FROM authors`)
			require.NoError(t, err)
			assert.Equal(t, []any{"wrote; a lot"}, row)
			assert.True(t, tableExists(t, conn, "books"))
			assert.True(t, tableExists(t, conn, "authors"), "rollback sections are never run")
		})
	}
}

// Records statements instead of running them, under another dialect.
type recordingConn struct {
	db.Conn
	dialect db.Dialect
	stmts   []string
}

func (c *recordingConn) Dialect() db.Dialect { return c.dialect }

func (c *recordingConn) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	c.stmts = append(c.stmts, sql)
	return db.Result{}, nil
}

func TestApplySplitUsesDialectQuoting(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/1_quotes.sql": "INSERT INTO notes VALUES ('it\\'s; fine');\nINSERT INTO notes VALUES ('two');\n",
	})
	conn := &recordingConn{dialect: db.MySQL}

	_, err := (&Applier{Fs: fs, Strategy: Split}).Apply(context.Background(), conn, "/m")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"INSERT INTO notes VALUES ('it\\'s; fine');",
		"INSERT INTO notes VALUES ('two');",
	}, conn.stmts)
}

func TestApplyAbortsOnFailure(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/1_ok.sql":    "CREATE TABLE first (id INTEGER);",
		"/m/2_bad.sql":   "CREATE TABLE second (id INTEGER); THIS IS NOT SQL;",
		"/m/3_never.sql": "CREATE TABLE third (id INTEGER);",
	})
	conn := openSQLite(t)

	migrations, err := (&Applier{Fs: fs, Strategy: Split}).Apply(ctx, conn, "/m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/m/2_bad.sql")

	require.Len(t, migrations, 3)
	assert.Equal(t, Applied, migrations[0].State)
	assert.Equal(t, Unapplied, migrations[1].State)
	assert.Equal(t, Unapplied, migrations[2].State)

	assert.True(t, tableExists(t, conn, "first"))
	assert.True(t, tableExists(t, conn, "second"), "partial application is not rolled back")
	assert.False(t, tableExists(t, conn, "third"))
}

func TestApplyChecksSourcesFirst(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/m/1.sql": "CREATE TABLE first (id INTEGER);"})
	conn := openSQLite(t)

	_, err := (&Applier{Fs: fs, Strategy: SingleBatch}).Apply(ctx, conn, "/m", "/missing")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.False(t, tableExists(t, conn, "first"), "nothing runs when a source is missing")

	_, err = (&Applier{Fs: fs}).Apply(ctx, conn, "/m")
	assert.Error(t, err, "a strategy must be chosen")
}

func TestApplyAsync(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, schemaFiles)
	conn := db.Async(openSQLite(t))

	session := perf.NewSession("test")
	ctx = perf.AttachPerf(ctx, session)

	migrations, err := (&Applier{Fs: fs, Strategy: SingleBatch}).ApplyAsync(ctx, conn, "/schema").Await(ctx)
	require.NoError(t, err)
	assert.Len(t, migrations, 2)
	assert.True(t, tableExists(t, conn.Sync(), "books"))

	var migrateBlocks []string
	for _, b := range session.Blocks() {
		if b.Category == "MIGRATE" {
			migrateBlocks = append(migrateBlocks, b.Description)
		}
	}
	assert.Equal(t, []string{"001_authors.sql", "002_books.sql"}, migrateBlocks)

	blocks := session.Blocks()
	require.NotEmpty(t, blocks)
	assert.Equal(t, "LOAD", blocks[0].Category, "files are loaded before anything runs")
	assert.Equal(t, "2 migrations", blocks[0].Description)
	assert.Zero(t, blocks[0].Duration())
}

func TestMakeMigration(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 3, 28, 18, 41, 7, 0, time.FixedZone("somewhere", 3600))

	path, err := MakeMigration(fs, "/migrations", "AddAuthors", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/migrations", "20240328T174107Z_AddAuthors.sql"), path)

	contents, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(contents), "-- AddAuthors\n-- Created 2024-03-28T17:41:07Z"))

	files, err := Resolve(fs, []string{"/migrations"})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}
