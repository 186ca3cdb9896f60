package bind

import (
	"fmt"
	"strings"
	"sync"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
	"git.handmade.network/hmn/sqlrt/src/sqlscan"
	"github.com/jmoiron/sqlx"
)

// A statement rewritten for one bind type. order[i] is the index of the
// declared parameter that feeds the i-th placeholder.
type compiledStatement struct {
	sql   string
	order []int
}

type cacheKey struct {
	def      *query.Definition
	bindType int
	scanner  sqlscan.Scanner
}

var cache sync.Map // cacheKey -> compiledStatement

func compiled(def *query.Definition, bindType int, sc sqlscan.Scanner) (compiledStatement, error) {
	key := cacheKey{def: def, bindType: bindType, scanner: sc}
	if c, ok := cache.Load(key); ok {
		return c.(compiledStatement), nil
	}

	c, err := compile(def, bindType, sc)
	if err != nil {
		return compiledStatement{}, err
	}
	cache.Store(key, c)
	return c, nil
}

// Rewrites the placeholders in def's statement for bindType. Placeholders in
// string literals, quoted identifiers and comments are left untouched.
func compile(def *query.Definition, bindType int, sc sqlscan.Scanner) (compiledStatement, error) {
	stmt := def.Statement()

	identity := make([]int, len(def.Params))
	for i := range identity {
		identity[i] = i
	}
	if def.Style == query.Positional && bindType == sqlx.DOLLAR {
		return compiledStatement{sql: stmt, order: identity}, nil
	}

	indexByName := make(map[string]int, len(def.Params))
	for i, p := range def.Params {
		indexByName[p.Name] = i
	}

	var b strings.Builder
	var order []int
	last := 0
	for _, ph := range sc.Placeholders(stmt) {
		var idx int
		switch def.Style {
		case query.Positional:
			if ph.Name != "" {
				continue
			}
			idx = ph.Number - 1
		case query.Named:
			if ph.Name == "" {
				continue
			}
			i, ok := indexByName[ph.Name]
			if !ok {
				return compiledStatement{}, oops.New(nil, "%s: undeclared parameter :%s", def.Name, ph.Name)
			}
			idx = i
		}
		if idx < 0 || idx >= len(def.Params) {
			return compiledStatement{}, oops.New(nil, "%s: placeholder $%d out of range", def.Name, ph.Number)
		}

		b.WriteString(stmt[last:ph.Start])
		last = ph.End

		switch bindType {
		case sqlx.DOLLAR:
			fmt.Fprintf(&b, "$%d", idx+1)
		case sqlx.AT:
			fmt.Fprintf(&b, "@p%d", idx+1)
		case sqlx.QUESTION:
			b.WriteByte('?')
			order = append(order, idx)
		default:
			return compiledStatement{}, oops.New(nil, "%s: unsupported bind type %d", def.Name, bindType)
		}
	}
	b.WriteString(stmt[last:])

	if bindType != sqlx.QUESTION {
		order = identity
	}
	return compiledStatement{sql: b.String(), order: order}, nil
}
