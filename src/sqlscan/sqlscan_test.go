package sqlscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentsRoundTrip(t *testing.T) {
	inputs := []string{
		"SELECT 1;",
		"SELECT 'a;b', \"c;d\" FROM t -- trailing;\n/* block; */ SELECT $$x;y$$;",
		"SELECT E'it\\'s';",
		"unterminated 'string",
		"/* outer /* inner */ still comment */ SELECT 1",
	}
	for _, in := range inputs {
		var b strings.Builder
		for _, seg := range Segments(in) {
			b.WriteString(seg.Text)
		}
		assert.Equal(t, in, b.String())
	}
}

func TestSegmentKinds(t *testing.T) {
	segs := Segments(`SELECT 'x' FROM "t"; -- hi`)
	var kinds []Kind
	for _, s := range segs {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []Kind{Code, SingleQuoted, Code, QuotedIdent, Terminator, Code, LineComment}, kinds)
}

func TestSplit(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		got := Split("CREATE TABLE a (id int);\nCREATE TABLE b (id int);\n")
		assert.Equal(t, []string{"CREATE TABLE a (id int);", "CREATE TABLE b (id int);"}, got)
	})
	t.Run("no trailing terminator", func(t *testing.T) {
		got := Split("SELECT 1;\nSELECT 2")
		assert.Equal(t, []string{"SELECT 1;", "SELECT 2"}, got)
	})
	t.Run("semicolons in literals and comments", func(t *testing.T) {
		got := Split("INSERT INTO t VALUES ('a;b'); -- c;d\nSELECT \"x;y\" /* ; */ FROM t;")
		require.Len(t, got, 2)
		assert.Equal(t, "INSERT INTO t VALUES ('a;b');", got[0])
		assert.Equal(t, "-- c;d\nSELECT \"x;y\" /* ; */ FROM t;", got[1])
	})
	t.Run("dollar quoted function body", func(t *testing.T) {
		fn := `CREATE FUNCTION f() RETURNS int AS $body$
BEGIN
  RETURN 1;
END;
$body$ LANGUAGE plpgsql;`
		got := Split(fn + "\nSELECT f();")
		assert.Equal(t, []string{fn, "SELECT f();"}, got)
	})
	t.Run("comment-only statements are dropped", func(t *testing.T) {
		got := Split("-- just a comment\n;\n/* another */;")
		assert.Empty(t, got)
	})
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Split("  \n  "))
	})
	t.Run("backslash escapes", func(t *testing.T) {
		sql := "INSERT INTO t VALUES ('it\\'s; fine');\nSELECT 1;"

		mysql := Scanner{BackslashEscapes: true}
		assert.Equal(t, []string{"INSERT INTO t VALUES ('it\\'s; fine');", "SELECT 1;"}, mysql.Split(sql))

		// Postgres ends the string at the second quote.
		assert.Equal(t, "INSERT INTO t VALUES ('it\\'s;", Split(sql)[0])
	})
}

func TestDollarTag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"$$", "$$"},
		{"$tag$", "$tag$"},
		{"$tag123$rest", "$tag123$"},
		{"$my_tag$", "$my_tag$"},
		{"$tag", ""},
		{"$tag-name$", ""},
		{"$1", ""},
		{"$1$", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, dollarTag(tt.input), "input %q", tt.input)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Run("positional", func(t *testing.T) {
		ps := Placeholders("UPDATE authors SET bio = $2 WHERE id = $1 AND note <> '$3' -- $4")
		require.Len(t, ps, 2)
		assert.Equal(t, 2, ps[0].Number)
		assert.Equal(t, 1, ps[1].Number)
		assert.Equal(t, "$2", "UPDATE authors SET bio = $2 WHERE id = $1"[ps[0].Start:ps[0].End])
	})
	t.Run("named", func(t *testing.T) {
		sql := "SELECT :id::int, :name, ':skip' FROM t WHERE x = :id"
		ps := Placeholders(sql)
		require.Len(t, ps, 3)
		assert.Equal(t, "id", ps[0].Name)
		assert.Equal(t, "name", ps[1].Name)
		assert.Equal(t, "id", ps[2].Name)
		assert.Equal(t, ":name", sql[ps[1].Start:ps[1].End])
	})
	t.Run("dollar quotes hide placeholders", func(t *testing.T) {
		assert.Empty(t, Placeholders("SELECT $$ $1 $$"))
	})
	t.Run("array slices", func(t *testing.T) {
		sql := "SELECT (tags)[1:n], tags[:n], tags[lo:hi], tags[(:i)] FROM t WHERE id = :id"
		ps := Placeholders(sql)
		require.Len(t, ps, 2)
		assert.Equal(t, "i", ps[0].Name)
		assert.Equal(t, "id", ps[1].Name)

		ps = Placeholders("SELECT tags[$1:$2] FROM t")
		require.Len(t, ps, 2)
		assert.Equal(t, 2, ps[1].Number)
	})
	t.Run("backslash escapes hide placeholders", func(t *testing.T) {
		sql := "SELECT 'it\\'s :x' FROM t WHERE id = :id"
		ps := Scanner{BackslashEscapes: true}.Placeholders(sql)
		require.Len(t, ps, 1)
		assert.Equal(t, "id", ps[0].Name)
	})
}
