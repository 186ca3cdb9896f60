package query

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
)

// NullMarker is implemented only by Null. The row mapper and binder use it to
// recognize the absent-value marker without knowing its type argument.
type NullMarker interface {
	IsNull() bool
	nullMarker()
}

/*
Null is the explicit absent marker for nullable columns and parameters. A
NULL column decodes to a Null with Valid set to false, never to the zero
value of T.

	bio := query.Some("Tolkien wrote books")
	none := query.None[string]()
*/
type Null[T any] struct {
	V     T
	Valid bool
}

func Some[T any](v T) Null[T] {
	return Null[T]{V: v, Valid: true}
}

func None[T any]() Null[T] {
	return Null[T]{}
}

// Converts a pointer, treating nil as absent.
func FromPtr[T any](p *T) Null[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (n Null[T]) IsNull() bool { return !n.Valid }
func (n Null[T]) nullMarker()  {}

func (n Null[T]) Get() (T, bool) {
	return n.V, n.Valid
}

func (n Null[T]) OrElse(def T) T {
	if n.Valid {
		return n.V
	}
	return def
}

func (n Null[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}

func (n *Null[T]) Scan(src any) error {
	var sn sql.Null[T]
	if err := sn.Scan(src); err != nil {
		return err
	}
	n.V, n.Valid = sn.V, sn.Valid
	return nil
}

func (n Null[T]) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(n.V)
}

func (n Null[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.V)
}

func (n *Null[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = None[T]()
		return nil
	}
	if err := json.Unmarshal(data, &n.V); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
