/*
Package sqlscan is a small SQL lexer. It does not parse SQL; it only knows
enough to tell code apart from string literals, quoted identifiers, dollar
quoted bodies and comments. The binder uses it to find placeholders, and the
migration applier uses it to split a file into statements.
*/
package sqlscan

import "strings"

type Kind int

const (
	Code Kind = iota
	SingleQuoted
	QuotedIdent
	DollarQuoted
	LineComment
	BlockComment
	Terminator
)

var kindNames = [...]string{"code", "single-quoted", "quoted-ident", "dollar-quoted", "line-comment", "block-comment", "terminator"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

type Segment struct {
	Kind   Kind
	Text   string
	Offset int
}

// A Scanner holds the quoting rules of one SQL dialect. The zero value
// follows Postgres, where backslash only escapes inside E'...' strings.
type Scanner struct {
	// Backslash escapes the next character in every single-quoted string,
	// as in MySQL without NO_BACKSLASH_ESCAPES.
	BackslashEscapes bool
}

// Segments lexes sql into consecutive segments using the Postgres rules.
func Segments(sql string) []Segment {
	return Scanner{}.Segments(sql)
}

// HasCode reports whether sql contains anything besides whitespace,
// comments and terminators.
func HasCode(sql string) bool {
	return Scanner{}.HasCode(sql)
}

// Split breaks sql into statements using the Postgres rules.
func Split(sql string) []string {
	return Scanner{}.Split(sql)
}

// Segments lexes sql into consecutive segments. Concatenating the Text of
// every segment reproduces sql exactly. Unterminated literals and comments
// run to the end of the input.
func (sc Scanner) Segments(sql string) []Segment {
	var segs []Segment
	codeStart := 0

	flushCode := func(end int) {
		if end > codeStart {
			segs = append(segs, Segment{Kind: Code, Text: sql[codeStart:end], Offset: codeStart})
		}
	}
	emit := func(kind Kind, start, end int) {
		flushCode(start)
		segs = append(segs, Segment{Kind: kind, Text: sql[start:end], Offset: start})
		codeStart = end
	}

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			escapes := sc.BackslashEscapes ||
				i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentChar(sql[i-2]))
			end := scanQuoted(sql, i, '\'', escapes)
			emit(SingleQuoted, i, end)
			i = end
		case c == '"' || c == '`':
			end := scanQuoted(sql, i, c, false)
			emit(QuotedIdent, i, end)
			i = end
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql)
			} else {
				end += i
			}
			emit(LineComment, i, end)
			i = end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := scanBlockComment(sql, i)
			emit(BlockComment, i, end)
			i = end
		case c == '$' && (i == 0 || !isIdentChar(sql[i-1])):
			tag := dollarTag(sql[i:])
			if tag == "" {
				i++
				continue
			}
			closeAt := strings.Index(sql[i+len(tag):], tag)
			end := len(sql)
			if closeAt >= 0 {
				end = i + len(tag) + closeAt + len(tag)
			}
			emit(DollarQuoted, i, end)
			i = end
		case c == ';':
			emit(Terminator, i, i+1)
			i++
		default:
			i++
		}
	}
	flushCode(len(sql))

	return segs
}

func (sc Scanner) HasCode(sql string) bool {
	for _, seg := range sc.Segments(sql) {
		switch seg.Kind {
		case LineComment, BlockComment, Terminator:
			continue
		case Code:
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
		}
		return true
	}
	return false
}

// Split breaks sql into statements at top-level semicolons. Each statement
// keeps its terminator and is trimmed of surrounding whitespace. Statements
// that contain only comments are dropped.
func (sc Scanner) Split(sql string) []string {
	var stmts []string
	var cur strings.Builder

	finish := func() {
		stmt := strings.TrimSpace(cur.String())
		cur.Reset()
		if sc.HasCode(stmt) {
			stmts = append(stmts, stmt)
		}
	}

	for _, seg := range sc.Segments(sql) {
		cur.WriteString(seg.Text)
		if seg.Kind == Terminator {
			finish()
		}
	}
	finish()

	return stmts
}

func scanQuoted(sql string, start int, quote byte, backslashEscapes bool) int {
	i := start + 1
	for i < len(sql) {
		c := sql[i]
		if backslashEscapes && c == '\\' {
			i += 2
			continue
		}
		if c == quote {
			// A doubled quote is an escaped quote.
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

// Postgres block comments nest.
func scanBlockComment(sql string, start int) int {
	depth := 0
	i := start
	for i+1 < len(sql) {
		switch {
		case sql[i] == '/' && sql[i+1] == '*':
			depth++
			i += 2
		case sql[i] == '*' && sql[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(sql)
}

// Returns the opening tag ($$ or $tag$) at the start of s, or "" if s does
// not start a dollar-quoted string. Tags cannot start with a digit, which
// keeps $1 placeholders from being mistaken for tags.
func dollarTag(s string) string {
	if len(s) < 2 || s[0] != '$' {
		return ""
	}
	if s[1] >= '0' && s[1] <= '9' {
		return ""
	}
	for i := 1; i < len(s); i++ {
		if s[i] == '$' {
			return s[:i+1]
		}
		if !isIdentChar(s[i]) {
			return ""
		}
	}
	return ""
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}
