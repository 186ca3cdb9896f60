package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/sqlscan"
)

/*
A Definition describes one generated query: its statement text, its declared
parameters and output columns, and its cardinality. Definitions are built once,
usually into package-level variables, and are never modified afterward. Every
part of the runtime treats them as read-only and may share them between
goroutines.
*/
type Definition struct {
	Name        string
	SQL         string
	Style       Style
	Params      []Param
	Columns     []Column
	Cardinality Cardinality

	// Target table for CopyFrom queries. The parameters name the columns.
	Table string
}

var reNameHeader = regexp.MustCompile(`(?m)^-- name: (\S+) :(\w+)`)

// Statement returns the SQL prefixed with a "-- name: X :card" header, which
// the query tracer uses to label statements. SQL that already carries a
// header is returned unchanged.
func (d *Definition) Statement() string {
	if reNameHeader.MatchString(d.SQL) {
		return d.SQL
	}
	return fmt.Sprintf("-- name: %s :%s\n%s", d.Name, d.Cardinality, d.SQL)
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s :%s", d.Name, d.Cardinality)
}

// Looks up the name and cardinality from a "-- name: X :card" header.
func ParseHeader(sql string) (name string, card Cardinality, ok bool) {
	m := reNameHeader.FindStringSubmatch(sql)
	if m == nil {
		return "", 0, false
	}
	card, err := ParseCardinality(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], card, true
}

type Option func(*fieldOpts)

type fieldOpts struct {
	nullable bool
	array    bool
	enum     []string
}

// Marks a parameter or column as accepting NULL.
func Nullable() Option {
	return func(o *fieldOpts) { o.nullable = true }
}

// Marks a parameter or column as an array of its type.
func Array() Option {
	return func(o *fieldOpts) { o.array = true }
}

// Restricts an Enum parameter to the given labels.
func Values(labels ...string) Option {
	return func(o *fieldOpts) { o.enum = labels }
}

type Builder struct {
	def  Definition
	errs []string
}

// Starts building a definition. Parameters are numbered in the order they
// are added.
func New(name string, card Cardinality, sql string) *Builder {
	return &Builder{def: Definition{
		Name:        name,
		SQL:         sql,
		Cardinality: card,
	}}
}

// Switches the definition to :name placeholders.
func (b *Builder) Named() *Builder {
	b.def.Style = Named
	return b
}

func (b *Builder) Table(table string) *Builder {
	b.def.Table = table
	return b
}

func (b *Builder) Param(name string, t Type, opts ...Option) *Builder {
	var o fieldOpts
	for _, opt := range opts {
		opt(&o)
	}
	b.def.Params = append(b.def.Params, Param{
		Name:       name,
		Position:   len(b.def.Params) + 1,
		Type:       t,
		Nullable:   o.nullable,
		Array:      o.array,
		EnumValues: o.enum,
	})
	return b
}

func (b *Builder) Column(name string, t Type, opts ...Option) *Builder {
	var o fieldOpts
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.enum) > 0 {
		b.errs = append(b.errs, fmt.Sprintf("column %s: enum labels only apply to parameters", name))
	}
	b.def.Columns = append(b.def.Columns, Column{
		Name:     name,
		Type:     t,
		Nullable: o.nullable,
		Array:    o.array,
	})
	return b
}

/*
Validates and returns the definition. Validation checks that:

  - the name is set and the cardinality is known
  - every declared parameter is referenced by the statement, and the statement
    references no undeclared parameters
  - ONE and MANY queries, and their batch forms, declare at least one output
    column
  - COPYFROM queries name a target table
*/
func (b *Builder) Build() (*Definition, error) {
	def := b.def
	errs := append([]string(nil), b.errs...)

	if def.Name == "" {
		errs = append(errs, "name is required")
	}
	if !def.Cardinality.Valid() {
		errs = append(errs, fmt.Sprintf("invalid cardinality %d", int(def.Cardinality)))
	}
	needsColumns := def.Cardinality == One || def.Cardinality == Many || def.Cardinality == BatchOne || def.Cardinality == BatchMany
	if needsColumns && len(def.Columns) == 0 {
		errs = append(errs, fmt.Sprintf(":%s queries must declare at least one column", def.Cardinality))
	}
	if def.Cardinality == CopyFrom && def.Table == "" {
		errs = append(errs, ":copyfrom queries must name a table")
	}

	seen := map[string]bool{}
	for _, p := range def.Params {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("parameter %d has no name", p.Position))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("parameter %s declared twice", p.Name))
		}
		seen[p.Name] = true
		if len(p.EnumValues) > 0 && p.Type != Enum {
			errs = append(errs, fmt.Sprintf("parameter %s has enum labels but type %s", p.Name, p.Type))
		}
	}

	// CopyFrom statements are driven by the table and parameter names, so
	// their SQL (if any) only serves the row-at-a-time fallback.
	if def.Cardinality != CopyFrom || strings.TrimSpace(def.SQL) != "" {
		errs = append(errs, checkPlaceholders(&def)...)
	}

	if len(errs) > 0 {
		return nil, oops.New(nil, "invalid query %s: %s", orUnnamed(def.Name), strings.Join(errs, "; "))
	}

	def.Params = append([]Param(nil), def.Params...)
	def.Columns = append([]Column(nil), def.Columns...)
	return &def, nil
}

func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

func checkPlaceholders(def *Definition) []string {
	var errs []string
	placeholders := sqlscan.Placeholders(def.SQL)

	switch def.Style {
	case Positional:
		used := map[int]bool{}
		for _, ph := range placeholders {
			if ph.Name != "" {
				// :name outside a named query is left alone; SQLite and
				// MySQL both have syntax that looks like this.
				continue
			}
			if ph.Number < 1 || ph.Number > len(def.Params) {
				errs = append(errs, fmt.Sprintf("statement references $%d but %d parameters are declared", ph.Number, len(def.Params)))
				continue
			}
			used[ph.Number] = true
		}
		for _, p := range def.Params {
			if !used[p.Position] {
				errs = append(errs, fmt.Sprintf("parameter %s ($%d) is not referenced", p.Name, p.Position))
			}
		}
	case Named:
		declared := map[string]bool{}
		for _, p := range def.Params {
			declared[p.Name] = true
		}
		used := map[string]bool{}
		var unknown []string
		for _, ph := range placeholders {
			if ph.Name == "" {
				errs = append(errs, fmt.Sprintf("named query uses positional placeholder $%d", ph.Number))
				continue
			}
			if !declared[ph.Name] {
				unknown = append(unknown, ph.Name)
				continue
			}
			used[ph.Name] = true
		}
		sort.Strings(unknown)
		for _, name := range unknown {
			errs = append(errs, fmt.Sprintf("statement references undeclared parameter :%s", name))
		}
		for _, p := range def.Params {
			if !used[p.Name] {
				errs = append(errs, fmt.Sprintf("parameter %s is not referenced", p.Name))
			}
		}
	}

	return errs
}

func orUnnamed(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
