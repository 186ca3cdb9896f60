package db

import (
	"context"
	"sync"

	"git.handmade.network/hmn/sqlrt/src/jobs"
	"git.handmade.network/hmn/sqlrt/src/utils"
)

/*
A Stream delivers values produced on another goroutine. Every Next call is a
point where the consumer waits for the producer. A stream must either be read
until Next returns false or be closed; Close stops the producer and waits for
it to release its resources.
*/
type Stream[T any] struct {
	job *jobs.Job
	ch  chan T

	mu          sync.Mutex
	producerErr error
	consumerErr error
	closeOnce   sync.Once
	closeErr    error
}

// The emit function passed to produce returns false once the consumer has
// closed the stream, at which point produce should clean up and return.
//
// produce receives ctx, not the stream's own context, so closing the stream
// early never cancels an in-flight statement. Drivers like pgx give up the
// connection when a query's context is canceled.
func NewStream[T any](ctx context.Context, name string, produce func(ctx context.Context, emit func(T) bool) error) *Stream[T] {
	s := &Stream[T]{
		job: jobs.New(ctx, name),
		ch:  make(chan T),
	}

	go func() {
		var err error
		defer func() {
			s.mu.Lock()
			s.producerErr = err
			s.mu.Unlock()
			close(s.ch)
			s.job.Finish()
		}()
		defer utils.RecoverPanicAsError(&err)

		err = produce(ctx, func(v T) bool {
			select {
			case s.ch <- v:
				return true
			case <-s.job.Canceled():
				return false
			}
		})
	}()

	return s
}

// Returns the next value, or false when the stream is exhausted, failed, or
// ctx ended. Check Err afterward.
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-s.ch:
		return v, ok
	case <-ctx.Done():
		s.mu.Lock()
		s.consumerErr = ctx.Err()
		s.mu.Unlock()
		var zero T
		return zero, false
	}
}

func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producerErr != nil {
		return s.producerErr
	}
	return s.consumerErr
}

// Stops the producer if it is still running, waits for it to finish, and
// returns the producer's error. Stopping early is not an error.
func (s *Stream[T]) Close() error {
	s.closeOnce.Do(func() {
		s.job.Cancel()
		for range s.ch {
		}
		<-s.job.Finished()

		s.mu.Lock()
		s.closeErr = s.producerErr
		s.mu.Unlock()
	})
	return s.closeErr
}

// Reads every remaining value and closes the stream.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var res []T
	for {
		v, ok := s.Next(ctx)
		if !ok {
			break
		}
		res = append(res, v)
	}
	nextErr := s.Err()
	closeErr := s.Close()
	if nextErr != nil {
		return res, nextErr
	}
	return res, closeErr
}
