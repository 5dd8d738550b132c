package promise

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
)

// Future is the read end of a one-shot asynchronous completion. It is
// safe to wait on a Future from multiple goroutines.
type Future[T any] struct {
	doneCh chan struct{}

	// immutable after doneCh is closed
	value T
	err   error
}

// Promise is the write end of a Future. Exactly one of Resolve and
// Reject takes effect; later calls are no-ops.
type Promise[T any] struct {
	fut  *Future[T]
	once sync.Once
}

// New creates a connected Promise and Future pair.
func New[T any]() (*Promise[T], *Future[T]) {
	fut := &Future[T]{doneCh: make(chan struct{})}
	return &Promise[T]{fut: fut}, fut
}

// Resolve completes the future successfully with value.
func (p *Promise[T]) Resolve(value T) {
	p.once.Do(func() {
		p.fut.value = value
		close(p.fut.doneCh)
	})
}

// Reject completes the future with an error.
func (p *Promise[T]) Reject(err error) {
	p.once.Do(func() {
		p.fut.err = err
		close(p.fut.doneCh)
	})
}

// Resolved returns an already-completed Future holding value.
func Resolved[T any](value T) *Future[T] {
	fut := &Future[T]{doneCh: make(chan struct{}), value: value}
	close(fut.doneCh)
	return fut
}

// Failed returns an already-failed Future holding err.
func Failed[T any](err error) *Future[T] {
	fut := &Future[T]{doneCh: make(chan struct{}), err: err}
	close(fut.doneCh)
	return fut
}

// Done returns a channel closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.doneCh
}

// Wait blocks until the future completes or ctx is canceled.
// Canceling ctx abandons the wait only; the underlying computation
// keeps running.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var noVal T
		return noVal, errors.Trace(ctx.Err())
	case <-f.doneCh:
	}
	return f.value, f.err
}

// Join returns a future completed when every input future has
// completed. It fails with the first failure in input order, but only
// after all inputs have finished, so a failed sibling never cancels
// the others.
func Join[T any](futs ...*Future[T]) *Future[struct{}] {
	p, ret := New[struct{}]()
	go func() {
		var firstErr error
		for _, fut := range futs {
			<-fut.doneCh
			if fut.err != nil && firstErr == nil {
				firstErr = fut.err
			}
		}
		if firstErr != nil {
			p.Reject(firstErr)
			return
		}
		p.Resolve(struct{}{})
	}()
	return ret
}
