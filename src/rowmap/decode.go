package rowmap

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	nullMarkerType = reflect.TypeFor[query.NullMarker]()
	scannerType    = reflect.TypeFor[sql.Scanner]()
	valuerType     = reflect.TypeFor[driver.Valuer]()
	timeType       = reflect.TypeFor[time.Time]()
	uuidType       = reflect.TypeFor[uuid.UUID]()
)

// Types that hold a single column even though they are structs.
func isLeaf(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return true
	}
	return t == timeType ||
		t.Implements(nullMarkerType) ||
		reflect.PointerTo(t).Implements(scannerType) ||
		t.Implements(valuerType)
}

/*
Stores raw in dst. raw is whatever the driver produced: pgx hands back
decoded Go values (int32, pgtype.Numeric, [16]byte, []any), while
database/sql drivers produce the driver.Value set (int64, float64, bool,
[]byte, string, time.Time). Either way the column's semantic type and the
destination's Go type decide the conversion.
*/
func assign(dst reflect.Value, raw any, col query.Column) error {
	if raw == nil {
		return assignNull(dst, col)
	}

	switch {
	case dst.Kind() == reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), raw, col); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case dst.Type().Implements(nullMarkerType):
		if err := assign(dst.FieldByName("V"), raw, col); err != nil {
			return err
		}
		dst.FieldByName("Valid").SetBool(true)
		return nil
	case dst.Type() == uuidType:
		// uuid.UUID's Scan does not accept the [16]byte pgx produces.
		u, err := toUUID(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(u))
		return nil
	case dst.CanAddr() && dst.Addr().Type().Implements(scannerType):
		return dst.Addr().Interface().(sql.Scanner).Scan(raw)
	case dst.Kind() == reflect.Interface:
		dst.Set(reflect.ValueOf(raw))
		return nil
	}

	if b, ok := raw.([]byte); ok {
		// Drivers may reuse the buffer.
		raw = bytes.Clone(b)
	}
	rv := reflect.ValueOf(raw)
	if col.Type == query.JSON {
		return assignJSON(dst, raw)
	}
	if rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return nil
	}

	err := assignByKind(dst, raw)
	if err == nil {
		return nil
	}
	if valuer, ok := raw.(driver.Valuer); ok {
		// pgtype values (Numeric, Interval, ...) know how to flatten
		// themselves into a basic value.
		v, verr := valuer.Value()
		if verr == nil && v != nil && reflect.TypeOf(v) != rv.Type() {
			return assign(dst, v, col)
		}
	}
	return err
}

func assignNull(dst reflect.Value, col query.Column) error {
	switch {
	case dst.Kind() == reflect.Pointer, dst.Kind() == reflect.Interface,
		dst.Kind() == reflect.Slice, dst.Kind() == reflect.Map,
		dst.Type().Implements(nullMarkerType):
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	case dst.CanAddr() && dst.Addr().Type().Implements(scannerType):
		return dst.Addr().Interface().(sql.Scanner).Scan(nil)
	}
	return oops.New(ErrUnexpectedNull, "column %s", col.Name)
}

func assignByKind(dst reflect.Value, raw any) error {
	t := dst.Type()

	switch {
	case t == timeType:
		tm, err := toTime(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case t == uuidType || (t.Kind() == reflect.Array && t.Len() == 16 && t.Elem().Kind() == reflect.Uint8):
		u, err := toUUID(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(u).Convert(t))
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := toBool(raw)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return oops.New(ErrDecode, "%d overflows %s", n, t)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return oops.New(ErrDecode, "%d overflows %s", n, t)
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		if t.Kind() == reflect.Float32 && math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return oops.New(ErrDecode, "%v overflows %s", f, t)
		}
		dst.SetFloat(f)
	case reflect.String:
		s, err := toString(raw)
		if err != nil {
			return err
		}
		dst.SetString(s)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, err := toBytes(raw)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(b).Convert(t))
			return nil
		}
		return assignArray(dst, raw)
	default:
		rv := reflect.ValueOf(raw)
		if rv.Type().ConvertibleTo(t) && rv.Kind() == t.Kind() {
			dst.Set(rv.Convert(t))
			return nil
		}
		return oops.New(ErrDecode, "cannot decode %T into %s", raw, t)
	}
	return nil
}

func assignArray(dst reflect.Value, raw any) error {
	switch v := raw.(type) {
	case []any:
		// pgx decodes arrays into []any.
		res := reflect.MakeSlice(dst.Type(), len(v), len(v))
		for i, elem := range v {
			if err := assign(res.Index(i), elem, query.Column{Name: "[" + strconv.Itoa(i) + "]"}); err != nil {
				return err
			}
		}
		dst.Set(res)
		return nil
	case string, []byte:
		// Postgres array literals, as lib/pq returns them.
		if !dst.CanAddr() {
			return oops.New(ErrDecode, "cannot decode array into unaddressable %s", dst.Type())
		}
		return pq.Array(dst.Addr().Interface()).Scan(v)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice {
		res := reflect.MakeSlice(dst.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := assign(res.Index(i), rv.Index(i).Interface(), query.Column{}); err != nil {
				return err
			}
		}
		dst.Set(res)
		return nil
	}
	return oops.New(ErrDecode, "cannot decode %T into %s", raw, dst.Type())
}

func assignJSON(dst reflect.Value, raw any) error {
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		// pgx has already unmarshaled json and jsonb columns.
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return oops.New(err, "failed to re-encode JSON value")
		}
	}

	switch {
	case dst.Kind() == reflect.String:
		dst.SetString(string(data))
		return nil
	case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
		cp := make([]byte, len(data))
		copy(cp, data)
		dst.Set(reflect.ValueOf(cp).Convert(dst.Type()))
		return nil
	}

	if !dst.CanAddr() {
		return oops.New(ErrDecode, "cannot decode JSON into unaddressable %s", dst.Type())
	}
	if err := json.Unmarshal(data, dst.Addr().Interface()); err != nil {
		return oops.New(err, "failed to decode JSON column")
	}
	return nil
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case []byte, string:
		s := asString(v)
		b, err := strconv.ParseBool(s)
		if err != nil {
			// Postgres text output.
			switch s {
			case "t":
				return true, nil
			case "f":
				return false, nil
			}
			return false, oops.New(ErrDecode, "cannot decode %q as bool", s)
		}
		return b, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return false, oops.New(ErrDecode, "cannot decode %T as bool", raw)
	}
	return n != 0, nil
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, oops.New(ErrDecode, "%d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, oops.New(ErrDecode, "%v is not an integer", v)
		}
		return int64(v), nil
	case float32:
		if float64(v) != math.Trunc(float64(v)) {
			return 0, oops.New(ErrDecode, "%v is not an integer", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte, string:
		n, err := strconv.ParseInt(strings.TrimSpace(asString(v)), 10, 64)
		if err != nil {
			return 0, oops.New(ErrDecode, "cannot decode %q as integer", asString(v))
		}
		return n, nil
	}
	return 0, oops.New(ErrDecode, "cannot decode %T as integer", raw)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte, string:
		f, err := strconv.ParseFloat(strings.TrimSpace(asString(v)), 64)
		if err != nil {
			return 0, oops.New(ErrDecode, "cannot decode %q as float", asString(v))
		}
		return f, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, oops.New(ErrDecode, "cannot decode %T as float", raw)
	}
	return float64(n), nil
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case int64, int32, int16, int8, int:
		n, _ := toInt(v)
		return strconv.FormatInt(n, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", oops.New(ErrDecode, "cannot decode %T as string", raw)
}

func toBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		cp := make([]byte, len(v))
		copy(cp, v)
		return cp, nil
	case string:
		return []byte(v), nil
	case [16]byte:
		return v[:], nil
	}
	return nil, oops.New(ErrDecode, "cannot decode %T as bytes", raw)
}

// SQLite stores timestamps as text unless the column is declared with a date
// type, so both forms show up.
var timeLayouts = append([]string{time.RFC3339Nano}, sqlite3.SQLiteTimestampFormats...)

func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte, string:
		s := strings.TrimSpace(asString(v))
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, oops.New(ErrDecode, "cannot decode %q as time", s)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, oops.New(ErrDecode, "cannot decode %T as time", raw)
}

func toUUID(raw any) (uuid.UUID, error) {
	switch v := raw.(type) {
	case [16]byte:
		return uuid.UUID(v), nil
	case uuid.UUID:
		return v, nil
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return uuid.Nil, oops.New(errors.Join(ErrDecode, err), "cannot decode %q as UUID", v)
		}
		return u, nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, oops.New(errors.Join(ErrDecode, err), "cannot decode %q as UUID", v)
		}
		return u, nil
	}
	return uuid.Nil, oops.New(ErrDecode, "cannot decode %T as UUID", raw)
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v.(string)
}
