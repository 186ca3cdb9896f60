/*
Package rowmap converts raw rows into Go values.

A Plan is built once per (query definition, Go type) pair and decides, for
each declared output column, which field receives it. Rows are then decoded
purely by position: column i always goes to the field chosen for column i at
plan time. Column names are only consulted while building the plan.

Struct fields are matched to columns by their `db` tag. A struct with no
tagged fields instead receives columns in field order, one exported field per
column. Any other type receives the single column of a one-column query.

A nullable column must land in something that can say "absent": a
query.Null, a pointer, a slice, a map or an interface. NULL is never decoded
to a zero value.
*/
package rowmap

import (
	"errors"
	"reflect"
	"sync"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
)

var (
	ErrColumnCount    = errors.New("row has the wrong number of columns")
	ErrUnexpectedNull = errors.New("unexpected NULL in non-nullable column")
	ErrDecode         = errors.New("cannot decode column value")
)

type Plan[T any] struct {
	p *plan
}

type plan struct {
	def     *query.Definition
	typ     reflect.Type
	scalar  bool
	targets []target
}

type target struct {
	column query.Column
	path   []int
	desc   string
}

type planKey struct {
	def *query.Definition
	typ reflect.Type
}

var plans sync.Map // planKey -> *plan

// Returns the plan for decoding def's rows into T. Plans are cached.
func For[T any](def *query.Definition) (*Plan[T], error) {
	typ := reflect.TypeFor[T]()
	key := planKey{def: def, typ: typ}
	if p, ok := plans.Load(key); ok {
		return &Plan[T]{p: p.(*plan)}, nil
	}

	p, err := buildPlan(def, typ)
	if err != nil {
		return nil, err
	}
	plans.Store(key, p)
	return &Plan[T]{p: p}, nil
}

func buildPlan(def *query.Definition, typ reflect.Type) (*plan, error) {
	if len(def.Columns) == 0 {
		return nil, oops.New(nil, "%s declares no output columns", def.Name)
	}

	p := &plan{def: def, typ: typ}

	if typ.Kind() == reflect.Struct && !isLeaf(typ) {
		names, paths, err := getColumnNamesAndPaths(typ, nil, "")
		if err != nil {
			return nil, oops.New(err, "%s: cannot map into %s", def.Name, typ)
		}

		if len(names) > 0 {
			pathByName := make(map[string][]int, len(names))
			for i, name := range names {
				pathByName[name] = paths[i]
			}
			for _, col := range def.Columns {
				path, ok := pathByName[col.Name]
				if !ok {
					return nil, oops.New(nil, "%s: %s has no field tagged db:%q", def.Name, typ, col.Name)
				}
				p.targets = append(p.targets, target{column: col, path: path, desc: describePath(typ, path)})
			}
		} else {
			var exported []int
			for i := 0; i < typ.NumField(); i++ {
				if typ.Field(i).IsExported() {
					exported = append(exported, i)
				}
			}
			if len(exported) != len(def.Columns) {
				return nil, oops.New(nil, "%s: %s has %d exported fields but the query returns %d columns", def.Name, typ, len(exported), len(def.Columns))
			}
			for i, col := range def.Columns {
				path := []int{exported[i]}
				p.targets = append(p.targets, target{column: col, path: path, desc: describePath(typ, path)})
			}
		}
	} else {
		if len(def.Columns) != 1 {
			return nil, oops.New(nil, "%s returns %d columns and cannot be mapped into %s", def.Name, len(def.Columns), typ)
		}
		p.scalar = true
		p.targets = []target{{column: def.Columns[0], desc: typ.String()}}
	}

	for _, t := range p.targets {
		if !t.column.Nullable {
			continue
		}
		fieldType := typ
		if !p.scalar {
			fieldType = typeAtPath(typ, t.path)
		}
		if !canHoldNull(fieldType) {
			return nil, oops.New(nil, "%s: column %s is nullable but %s (%s) cannot represent NULL; use query.Null or a pointer", def.Name, t.column.Name, t.desc, fieldType)
		}
	}

	return p, nil
}

// Decodes one raw row. raw must hold one value per declared column, in
// declaration order.
func (pl *Plan[T]) Map(raw []any) (T, error) {
	var res T
	if err := pl.MapInto(&res, raw); err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

func (pl *Plan[T]) MapInto(dst *T, raw []any) error {
	p := pl.p
	if len(raw) != len(p.targets) {
		return oops.New(ErrColumnCount, "%s: expected %d columns, got %d", p.def.Name, len(p.targets), len(raw))
	}

	dstVal := reflect.ValueOf(dst)
	for i, t := range p.targets {
		var field reflect.Value
		if p.scalar {
			field = dstVal.Elem()
		} else {
			field, _ = followPathThroughStructs(dstVal, t.path)
		}
		if err := assign(field, raw[i], t.column); err != nil {
			return oops.New(err, "%s: column %s into %s", p.def.Name, t.column.Name, t.desc)
		}
	}
	return nil
}

func typeAtPath(t reflect.Type, path []int) reflect.Type {
	for _, i := range path {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		t = t.Field(i).Type
	}
	return t
}

func canHoldNull(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	if t.Implements(nullMarkerType) {
		return true
	}
	return reflect.PointerTo(t).Implements(scannerType)
}
