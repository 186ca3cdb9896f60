package db

import (
	"context"

	"git.handmade.network/hmn/sqlrt/src/jobs"
	"git.handmade.network/hmn/sqlrt/src/utils"
)

// A Future is the pending result of an async call.
type Future[T any] struct {
	job *jobs.Job
	val T
	err error
}

// Runs fn on a new goroutine. A panic in fn becomes the future's error.
func Go[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{job: jobs.New(ctx, name)}
	go func() {
		defer f.job.Finish()
		defer utils.RecoverPanicAsError(&f.err)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns a future that is already complete.
func Resolved[T any](val T, err error) *Future[T] {
	f := &Future[T]{job: jobs.New(context.Background(), "resolved"), val: val, err: err}
	f.job.Finish()
	return f
}

// Closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.job.Finished()
}

// Waits for the result. If ctx ends first, Await returns ctx's error; the
// call itself keeps running and can be awaited again.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.job.Finished():
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Waits for the result, ignoring cancellation.
func (f *Future[T]) Wait() (T, error) {
	<-f.job.Finished()
	return f.val, f.err
}
