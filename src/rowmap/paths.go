package rowmap

import (
	"fmt"
	"reflect"

	"git.handmade.network/hmn/sqlrt/src/oops"
)

/*
Collects the column names and field paths for every `db`-tagged field of a
struct, descending into tagged struct fields. Nested names are joined with
dots:

	type Book struct {
		ID     int64  `db:"id"`
		Author Author `db:"author"` // author.id, author.name, ...
	}

An embedded struct with a db tag prefixes the names of its promoted fields
the same way. Untagged fields are ignored.
*/
func getColumnNamesAndPaths(destType reflect.Type, pathSoFar []int, prefix string) (names []string, paths [][]int, err error) {
	if destType.Kind() == reflect.Pointer {
		destType = destType.Elem()
	}

	if destType.Kind() != reflect.Struct {
		return nil, nil, oops.New(nil, "can only get column names and paths from a struct, got type '%v' (at prefix '%v')", destType.Name(), prefix)
	}

	type anonPrefix struct {
		Path   []int
		Prefix string
	}
	var anonPrefixes []anonPrefix

	for _, field := range reflect.VisibleFields(destType) {
		columnName := field.Tag.Get("db")
		if columnName == "" || columnName == "-" {
			continue
		}
		if field.Anonymous {
			anonPrefixes = append(anonPrefixes, anonPrefix{Path: field.Index, Prefix: columnName})
			continue
		}

		path := make([]int, 0, len(pathSoFar)+len(field.Index))
		path = append(path, pathSoFar...)
		path = append(path, field.Index...)

		fieldPrefix := prefix
		for _, anon := range anonPrefixes {
			if hasPathPrefix(field.Index, anon.Path) {
				fieldPrefix = joinName(fieldPrefix, anon.Prefix)
				break
			}
		}
		fullName := joinName(fieldPrefix, columnName)

		fieldType := field.Type
		if fieldType.Kind() == reflect.Pointer {
			fieldType = fieldType.Elem()
		}

		if isLeaf(fieldType) {
			names = append(names, fullName)
			paths = append(paths, path)
		} else if fieldType.Kind() == reflect.Struct {
			subNames, subPaths, err := getColumnNamesAndPaths(fieldType, path, fullName)
			if err != nil {
				return nil, nil, err
			}
			names = append(names, subNames...)
			paths = append(paths, subPaths...)
		} else {
			return nil, nil, oops.New(nil, "field '%s' in type %s has invalid type '%s'", field.Name, destType, field.Type)
		}
	}

	return names, paths, nil
}

func hasPathPrefix(path, prefix []int) bool {
	if len(path) <= len(prefix) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

/*
Walks path from the struct pointed to by structPtrVal, allocating nil struct
pointers along the way, and returns the field at the end.
*/
func followPathThroughStructs(structPtrVal reflect.Value, path []int) (reflect.Value, reflect.StructField) {
	if len(path) < 1 {
		panic(oops.New(nil, "can't follow an empty path"))
	}

	if structPtrVal.Kind() != reflect.Pointer || structPtrVal.Elem().Kind() != reflect.Struct {
		panic(oops.New(nil, "structPtrVal must be a pointer to a struct; got value of type %s", structPtrVal.Type()))
	}

	var field reflect.StructField
	val := structPtrVal
	for _, i := range path {
		if val.Kind() == reflect.Pointer && val.Type().Elem().Kind() == reflect.Struct {
			if val.IsNil() {
				val.Set(reflect.New(val.Type().Elem()))
			}
			val = val.Elem()
		}
		if val.Kind() != reflect.Struct || i >= val.NumField() {
			panic(oops.New(nil, "invalid path %v at field '%s'", path, field.Name))
		}
		field = val.Type().Field(i)
		val = val.Field(i)
	}
	return val, field
}

func describePath(t reflect.Type, path []int) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := ""
	for _, i := range path {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		f := t.Field(i)
		name = joinName(name, f.Name)
		t = f.Type
	}
	return fmt.Sprintf("field %s", name)
}
