package exec

import (
	"context"
	"errors"
	"sync"

	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/query"
	"git.handmade.network/hmn/sqlrt/src/rowmap"
	"git.handmade.network/hmn/sqlrt/src/sqlscan"
)

/*
An Iterator walks the rows of a :many query once, in the order the database
returned them. It closes itself when the rows run out, when a row fails to
map, or when the context it was opened with ends. Close it yourself if you
stop early.
*/
type Iterator[T any] struct {
	def    *query.Definition
	plan   *rowmap.Plan[T]
	cursor db.Cursor

	mu       sync.Mutex
	isClosed bool
	err      error
	closed   chan struct{}
}

func newIterator[T any](ctx context.Context, def *query.Definition, plan *rowmap.Plan[T], cursor db.Cursor) *Iterator[T] {
	it := &Iterator[T]{
		def:    def,
		plan:   plan,
		cursor: cursor,
		closed: make(chan struct{}),
	}

	// Ensure that iterators are closed if context is cancelled. Otherwise, iterators can hold
	// open connections even after a request is cancelled.
	go func() {
		done := ctx.Done()
		if done == nil {
			return
		}
		select {
		case <-done:
			it.mu.Lock()
			defer it.mu.Unlock()
			if !it.isClosed {
				it.closeLocked(ctx.Err())
			}
		case <-it.closed:
		}
	}()

	return it
}

// Returns the next row, or false once the rows are exhausted or something
// went wrong. Check Err afterward.
func (it *Iterator[T]) Next() (*T, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.isClosed {
		return nil, false
	}

	if !it.cursor.Next() {
		it.closeLocked(nil)
		return nil, false
	}

	vals, err := it.cursor.Values()
	if err != nil {
		it.closeLocked(oops.New(err, "%s: failed to read row", it.def.Name))
		return nil, false
	}

	res, err := it.plan.Map(vals)
	if err != nil {
		it.closeLocked(err)
		return nil, false
	}
	return &res, true
}

// The error that ended iteration, if any. Running out of rows is not an error.
func (it *Iterator[T]) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// Releases the underlying cursor. Closing an iterator more than once is fine;
// every call returns the same error as Err.
func (it *Iterator[T]) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.isClosed {
		it.closeLocked(nil)
	}
	return it.err
}

func (it *Iterator[T]) closeLocked(cause error) {
	it.isClosed = true
	close(it.closed)

	closeErr := it.cursor.Close()
	if closeErr != nil {
		closeErr = oops.New(closeErr, "%s: error while iterating through db results", it.def.Name)
	}
	it.err = errors.Join(cause, closeErr)
}

/*
Pulls all the remaining values into a slice, and closes the iterator. The rows
already read with Next are not included. Calling ToSlice on an iterator that
has already been closed returns ErrIteratorClosed.
*/
func (it *Iterator[T]) ToSlice() ([]T, error) {
	it.mu.Lock()
	wasClosed := it.isClosed
	it.mu.Unlock()
	if wasClosed {
		return nil, ErrIteratorClosed
	}

	result := []T{}
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		result = append(result, *row)
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	return result, nil
}

// Whether a definition carries a statement of its own, beyond its header.
func hasStatement(def *query.Definition) bool {
	return sqlscan.HasCode(def.SQL)
}
