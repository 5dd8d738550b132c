package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// Queue abstracts a generics FIFO queue, which is thread-safe
type Queue[T any] interface {
	Add(elem T)
	Pop() (T, bool)
	Peek() (T, bool)
	Size() int
}

// SliceQueue implements Queue. A signal is sent to the channel C
// each time an element is added to an empty queue, so a consumer can
// select on C instead of polling.
//
//nolint:structcheck
type SliceQueue[T any] struct {
	C chan struct{}

	mu sync.Mutex
	// protected by mu, because deque is not thread-safe.
	dq deque.Deque
}

// NewSliceQueue creates a new SliceQueue.
func NewSliceQueue[T any]() *SliceQueue[T] {
	return &SliceQueue[T]{
		C:  make(chan struct{}, 1),
		dq: deque.NewDeque(),
	}
}

// Add pushes an element to the back of the queue.
func (q *SliceQueue[T]) Add(elem T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.dq.PushBack(elem)
	q.signal()
}

// Pop removes and returns the element at the front of the queue.
func (q *SliceQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dq.Empty() {
		var noVal T
		return noVal, false
	}

	ret := q.dq.PopFront().(T)
	if !q.dq.Empty() {
		q.signal()
	}
	return ret, true
}

// Peek returns the element at the front of the queue without
// removing it.
func (q *SliceQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dq.Empty() {
		var noVal T
		return noVal, false
	}
	return q.dq.Front().(T), true
}

// Size returns the number of elements in the queue.
func (q *SliceQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dq.Len()
}

func (q *SliceQueue[T]) signal() {
	select {
	case q.C <- struct{}{}:
	default:
	}
}
