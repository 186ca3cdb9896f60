/*
Package bind turns a query definition and a call's arguments into the SQL
text and argument list a particular transport expects.

Generated statements are written with Postgres-style $N placeholders, or with
:name placeholders for named queries. Bind rewrites them for the target
dialect:

	dollar    $1, $2        Postgres (pgx, lib/pq)
	question  ?, ?          SQLite, MySQL
	at        @p1, @p2      SQL Server

For the question style, a placeholder used twice is bound twice, and the
arguments are reordered to match the order the placeholders appear in. The
caller always passes arguments in declaration order.

All argument checks happen before anything is sent to the database.
*/
package bind

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"

	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
)

var (
	ErrArgCount  = errors.New("wrong number of arguments")
	ErrNullParam = errors.New("nil passed for non-nullable parameter")
	ErrEnumValue = errors.New("invalid enum value")
	ErrArray     = errors.New("invalid array argument")
)

// The statement and arguments ready to hand to a db.Conn.
type Bound struct {
	SQL  string
	Args []any
}

/*
Checks args against the definition's parameters and rewrites the statement
for dialect d. args must be in declaration order, one per parameter.

  - the number of arguments must match exactly (ErrArgCount)
  - nil, a nil pointer or an absent query.Null is only accepted for nullable
    parameters (ErrNullParam)
  - Enum parameters accept strings, string-kinded types and fmt.Stringers,
    and are passed on as plain strings (ErrEnumValue)
  - Array parameters must be slices and the dialect must support them
    (ErrArray)

Everything else is passed through unchanged.
*/
func Bind(def *query.Definition, d db.Dialect, args []any) (Bound, error) {
	if len(args) != len(def.Params) {
		return Bound{}, oops.New(ErrArgCount, "%s: expected %d arguments, got %d", def.Name, len(def.Params), len(args))
	}

	values := make([]any, len(args))
	for i, p := range def.Params {
		v, err := convert(p, d, args[i])
		if err != nil {
			return Bound{}, oops.New(err, "%s: parameter %s", def.Name, p.Name)
		}
		values[i] = v
	}

	c, err := compiled(def, d.BindType, d.Scanner())
	if err != nil {
		return Bound{}, err
	}

	res := Bound{SQL: c.sql, Args: make([]any, len(c.order))}
	for i, idx := range c.order {
		res.Args[i] = values[idx]
	}
	return res, nil
}

func convert(p query.Param, d db.Dialect, arg any) (any, error) {
	if isNull(arg) {
		if !p.Nullable {
			return nil, ErrNullParam
		}
		return arg, nil
	}

	if _, ok := arg.(query.NullMarker); ok && (p.Array || p.Type == query.Enum) {
		arg = reflect.ValueOf(arg).FieldByName("V").Interface()
	}

	switch {
	case p.Array:
		return convertArray(p, d, arg)
	case p.Type == query.Enum:
		label, err := enumLabel(p, arg)
		if err != nil {
			return nil, err
		}
		return label, nil
	}
	return arg, nil
}

func convertArray(p query.Param, d db.Dialect, arg any) (any, error) {
	if !d.Arrays {
		return nil, oops.New(ErrArray, "%s does not support array parameters", d.Name)
	}

	v := reflect.ValueOf(arg)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, oops.New(ErrArray, "expected a slice, got %T", arg)
	}

	if p.Type == query.Enum {
		labels := make([]string, v.Len())
		for i := range labels {
			label, err := enumLabel(p, v.Index(i).Interface())
			if err != nil {
				return nil, oops.New(err, "element %d", i)
			}
			labels[i] = label
		}
		arg = labels
	}

	if d.EncodeArray != nil {
		return d.EncodeArray(arg), nil
	}
	return arg, nil
}

func enumLabel(p query.Param, arg any) (string, error) {
	var label string
	switch v := arg.(type) {
	case string:
		label = v
	case fmt.Stringer:
		label = v.String()
	default:
		rv := reflect.ValueOf(arg)
		for rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.String {
			return "", oops.New(ErrEnumValue, "cannot use %T as an enum label", arg)
		}
		label = rv.String()
	}

	if len(p.EnumValues) == 0 {
		return label, nil
	}
	for _, allowed := range p.EnumValues {
		if allowed == label {
			return label, nil
		}
	}
	return "", oops.New(ErrEnumValue, "%q is not one of %v", label, p.EnumValues)
}

func isNull(arg any) bool {
	if arg == nil {
		return true
	}
	if n, ok := arg.(query.NullMarker); ok {
		return n.IsNull()
	}
	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	if valuer, ok := arg.(driver.Valuer); ok {
		val, err := valuer.Value()
		return err == nil && val == nil
	}
	return false
}
