package sqlscan

// A Placeholder is a parameter reference found in code. Exactly one of Number
// ($N) or Name (:name) is set.
type Placeholder struct {
	Start  int
	End    int
	Number int
	Name   string
}

// Placeholders returns every $N and :name reference outside of literals and
// comments, using the Postgres rules.
func Placeholders(sql string) []Placeholder {
	return Scanner{}.Placeholders(sql)
}

/*
Placeholders returns every $N and :name reference outside of literals and
comments, in order of appearance. Postgres casts (::type) are not mistaken for
names, and neither are array slice bounds: inside brackets, a colon that
follows '[', ')', ']' or an identifier separates bounds, so a parameter used
as a subscript must be parenthesized, as in tags[(:i)].
*/
func (sc Scanner) Placeholders(sql string) []Placeholder {
	var res []Placeholder
	depth := 0
	for _, seg := range sc.Segments(sql) {
		if seg.Kind != Code {
			continue
		}
		text := seg.Text
		for i := 0; i < len(text); i++ {
			c := text[i]
			prevIsIdent := i > 0 && isIdentChar(text[i-1])
			switch {
			case c == '[':
				depth++
			case c == ']':
				if depth > 0 {
					depth--
				}
			case c == '$' && !prevIsIdent:
				j := i + 1
				n := 0
				for j < len(text) && text[j] >= '0' && text[j] <= '9' {
					n = n*10 + int(text[j]-'0')
					j++
				}
				if j > i+1 {
					res = append(res, Placeholder{Start: seg.Offset + i, End: seg.Offset + j, Number: n})
					i = j - 1
				}
			case c == ':':
				if i+1 < len(text) && text[i+1] == ':' {
					i++
					continue
				}
				if i > 0 && text[i-1] == ':' {
					continue
				}
				if depth > 0 && isSliceColon(text, i) {
					continue
				}
				j := i + 1
				if j >= len(text) || !isNameStart(text[j]) {
					continue
				}
				for j < len(text) && isIdentChar(text[j]) {
					j++
				}
				res = append(res, Placeholder{Start: seg.Offset + i, End: seg.Offset + j, Name: text[i+1 : j]})
				i = j - 1
			}
		}
	}
	return res
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSliceColon(text string, i int) bool {
	j := i - 1
	for j >= 0 && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n') {
		j--
	}
	if j < 0 {
		return false
	}
	p := text[j]
	return p == '[' || p == ')' || p == ']' || isIdentChar(p)
}
