package utils

import (
	"errors"
	"fmt"
	"reflect"

	"git.handmade.network/hmn/sqlrt/src/oops"
)

// Returns the provided value, or a default value if the input was zero.
func OrDefault[T comparable](v T, def T) T {
	var zero T
	if v == zero {
		return def
	} else {
		return v
	}
}

// Panics if err is non-nil. Typed nil pointers are treated as nil, so this
// works for functions returning concrete error types.
func Must[E error](err E) {
	if !isNilError(err) {
		panic(err)
	}
}

func isNilError(err error) bool {
	if err == nil {
		return true
	}
	v := reflect.ValueOf(err)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

/*
Recover a panic and convert it to a returned error. Call it like so:

	func MyFunc() (err error) {
		defer utils.RecoverPanicAsError(&err)
	}

If an error was already present, both errors are kept: the result matches the
existing error and the panic value under errors.Is / errors.As.
*/
func RecoverPanicAsError(err *error) {
	if r := recover(); r != nil {
		var recoveredErr error
		if rerr, ok := r.(error); ok {
			recoveredErr = rerr
		} else {
			recoveredErr = fmt.Errorf("panic with value: %v", r)
		}
		if *err != nil {
			recoveredErr = errors.Join(recoveredErr, *err)
		}
		*err = oops.New(recoveredErr, "panic recovered as error")
	}
}
