package bind

import (
	"reflect"
	"strings"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
	"github.com/jmoiron/sqlx/reflectx"
)

// Field names are matched the same way sqlx matches them: the db tag if there
// is one, otherwise the lowercased field name.
var mapper = reflectx.NewMapperFunc("db", strings.ToLower)

/*
Extracts arguments for def from a struct or a map, in declaration order. This
is how generated code for queries with many parameters passes a params struct:

	type UpdateAuthorBioParams struct {
		ID  int64              `db:"id"`
		Bio query.Null[string] `db:"bio"`
	}

Embedded structs are searched too.
*/
func Struct(def *query.Definition, arg any) ([]any, error) {
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, oops.New(ErrArgCount, "%s: nil parameter struct", def.Name)
		}
		v = v.Elem()
	}

	args := make([]any, len(def.Params))
	switch v.Kind() {
	case reflect.Struct:
		fields := mapper.FieldMap(v)
		for i, p := range def.Params {
			f, ok := fields[p.Name]
			if !ok {
				return nil, oops.New(ErrArgCount, "%s: %s has no field for parameter %s", def.Name, v.Type(), p.Name)
			}
			args[i] = f.Interface()
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, oops.New(nil, "%s: parameter maps must have string keys, got %s", def.Name, v.Type())
		}
		for i, p := range def.Params {
			f := v.MapIndex(reflect.ValueOf(p.Name).Convert(v.Type().Key()))
			if !f.IsValid() {
				return nil, oops.New(ErrArgCount, "%s: no value for parameter %s", def.Name, p.Name)
			}
			args[i] = f.Interface()
		}
	default:
		return nil, oops.New(nil, "%s: cannot take parameters from %T", def.Name, arg)
	}

	return args, nil
}
