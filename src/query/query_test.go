package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardinality(t *testing.T) {
	for c, name := range cardinalityNames {
		parsed, err := ParseCardinality(":" + name)
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
		assert.Equal(t, name, c.String())
	}

	_, err := ParseCardinality(":bogus")
	assert.Error(t, err)

	assert.True(t, One.ReturnsRows())
	assert.True(t, ExecResult.ReturnsRows())
	assert.False(t, Exec.ReturnsRows())
	assert.True(t, BatchOne.ReturnsRows())
	assert.False(t, BatchExec.ReturnsRows())
	assert.True(t, BatchMany.IsBatch())
	assert.False(t, Many.IsBatch())

	parsed, err := ParseCardinality(":BatchExec")
	require.NoError(t, err)
	assert.Equal(t, BatchExec, parsed)
}

func TestBuild(t *testing.T) {
	t.Run("positional", func(t *testing.T) {
		def, err := New("UpdateAuthorBio", ExecRows, "UPDATE authors SET bio = $2 WHERE id = $1").
			Param("id", Int).
			Param("bio", Text, Nullable()).
			Build()
		require.NoError(t, err)
		assert.Equal(t, 1, def.Params[0].Position)
		assert.Equal(t, 2, def.Params[1].Position)
		assert.True(t, def.Params[1].Nullable)
		assert.Equal(t, "-- name: UpdateAuthorBio :execrows\nUPDATE authors SET bio = $2 WHERE id = $1", def.Statement())
	})
	t.Run("unreferenced param", func(t *testing.T) {
		_, err := New("GetAuthor", One, "SELECT id FROM authors WHERE id = $1").
			Column("id", Int).
			Param("id", Int).
			Param("extra", Int).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extra")
	})
	t.Run("undeclared placeholder", func(t *testing.T) {
		_, err := New("GetAuthor", One, "SELECT id FROM authors WHERE id = $2").
			Column("id", Int).
			Param("id", Int).
			Build()
		assert.Error(t, err)
	})
	t.Run("placeholders in literals do not count", func(t *testing.T) {
		_, err := New("Weird", Exec, "SELECT '$1' -- $2").Build()
		assert.NoError(t, err)
	})
	t.Run("named", func(t *testing.T) {
		def, err := New("CreateAuthorNamed", One, "INSERT INTO authors (name, bio) VALUES (:name, :bio) RETURNING id").
			Named().
			Param("name", Text).
			Param("bio", Text, Nullable()).
			Column("id", Int).
			Build()
		require.NoError(t, err)
		assert.Equal(t, Named, def.Style)

		_, err = New("Bad", Exec, "DELETE FROM authors WHERE name = :nme").Named().Param("name", Text).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), ":nme")

		_, err = New("FirstTags", Many, "SELECT (tags)[1:n] FROM posts WHERE author = :author").
			Named().
			Param("author", Int).
			Column("tags", Text, Array()).
			Build()
		assert.NoError(t, err, "array slice bounds are not parameters")
	})
	t.Run("one needs columns", func(t *testing.T) {
		_, err := New("NoCols", One, "SELECT 1").Build()
		assert.Error(t, err)
		_, err = New("NoBatchCols", BatchOne, "SELECT 1").Build()
		assert.Error(t, err)
	})
	t.Run("copyfrom needs table", func(t *testing.T) {
		_, err := New("InsertAuthors", CopyFrom, "").Param("name", Text).Build()
		assert.Error(t, err)

		def, err := New("InsertAuthors", CopyFrom, "").Table("authors").Param("name", Text).Build()
		require.NoError(t, err)
		assert.Equal(t, "authors", def.Table)
	})
	t.Run("enum labels", func(t *testing.T) {
		def := New("SetMood", Exec, "UPDATE t SET mood = $1").Param("mood", Enum, Values("happy", "sad")).MustBuild()
		assert.Equal(t, []string{"happy", "sad"}, def.Params[0].EnumValues)

		assert.Panics(t, func() {
			New("SetMood", Exec, "UPDATE t SET mood = $1").Param("mood", Text, Values("happy")).MustBuild()
		})
	})
}

func TestHeader(t *testing.T) {
	name, card, ok := ParseHeader("-- name: ListAuthors :many\nSELECT * FROM authors")
	require.True(t, ok)
	assert.Equal(t, "ListAuthors", name)
	assert.Equal(t, Many, card)

	_, _, ok = ParseHeader("SELECT 1")
	assert.False(t, ok)

	def := New("ListAuthors", Many, "-- name: ListAuthors :many\nSELECT id FROM authors").Column("id", Int).MustBuild()
	assert.Equal(t, def.SQL, def.Statement())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := New("B", Exec, "SELECT 1").MustBuild()
	b := New("A", Exec, "SELECT 2").MustBuild()
	require.NoError(t, r.Register(a, b))
	require.NoError(t, r.Register(a), "re-registering the same definition is fine")

	dup := New("B", Exec, "SELECT 3").MustBuild()
	assert.Error(t, r.Register(dup))

	got, ok := r.Get("A")
	assert.True(t, ok)
	assert.Same(t, b, got)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, "B", all[1].Name)
}

func TestNull(t *testing.T) {
	some := Some("hello")
	none := None[string]()

	assert.False(t, some.IsNull())
	assert.True(t, none.IsNull())
	assert.Equal(t, "fallback", none.OrElse("fallback"))
	assert.Nil(t, none.Ptr())
	assert.Equal(t, "hello", *some.Ptr())

	v, err := none.Value()
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = some.Value()
	assert.NoError(t, err)
	assert.Equal(t, "hello", v)

	var scanned Null[int64]
	require.NoError(t, scanned.Scan(int64(5)))
	assert.Equal(t, Some[int64](5), scanned)
	require.NoError(t, scanned.Scan(nil))
	assert.False(t, scanned.Valid)

	b, err := json.Marshal(struct {
		A Null[string]
		B Null[string]
	}{some, none})
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":"hello","B":null}`, string(b))

	var back Null[string]
	require.NoError(t, json.Unmarshal([]byte(`"x"`), &back))
	assert.Equal(t, Some("x"), back)

	x := 3
	assert.Equal(t, Some(3), FromPtr(&x))
	assert.Equal(t, None[int](), FromPtr[int](nil))
}
