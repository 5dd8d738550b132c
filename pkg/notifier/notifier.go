package notifier

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/tidalflow/tidalflow/pkg/containers"
)

const defaultReceiverChanSize = 16

type receiverID = int64

// Notifier is the sending endpoint of a single-producer-multiple-consumer
// notification mechanism.
type Notifier[T any] struct {
	receivers sync.Map // receiverID -> *Receiver[T]
	nextID    atomic.Int64

	pending *containers.SliceQueue[T]

	closed        atomic.Bool
	closeCh       chan struct{}
	synchronizeCh chan struct{}

	wg sync.WaitGroup
}

// Receiver is the receiving endpoint of a single-producer-multiple-consumer
// notification mechanism.
type Receiver[T any] struct {
	id receiverID

	// C is the channel to receive events from.
	C chan T

	closeOnce sync.Once

	// closed MUST be closed before C, so the delivery loop can
	// observe the receiver going away instead of blocking on a full
	// C that nobody drains anymore.
	closed chan struct{}

	notifier *Notifier[T]
}

// Close closes the receiver and detaches it from its notifier.
func (r *Receiver[T]) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		// Waits for the delivery loop to finish its current
		// iteration. After the barrier no send on C can be in
		// flight, so closing it is safe.
		<-r.notifier.synchronizeCh
		close(r.C)
		r.notifier.receivers.Delete(r.id)
	})
}

// NewNotifier creates a new Notifier and starts its poll loop.
func NewNotifier[T any]() *Notifier[T] {
	ret := &Notifier[T]{
		pending:       containers.NewSliceQueue[T](),
		closeCh:       make(chan struct{}),
		synchronizeCh: make(chan struct{}),
	}

	ret.wg.Add(1)
	go func() {
		defer ret.wg.Done()
		ret.run()
	}()
	return ret
}

// NewReceiver creates a new Receiver associated with the given Notifier.
func (n *Notifier[T]) NewReceiver() *Receiver[T] {
	receiver := &Receiver[T]{
		id:       n.nextID.Add(1),
		C:        make(chan T, defaultReceiverChanSize),
		closed:   make(chan struct{}),
		notifier: n,
	}

	n.receivers.Store(receiver.id, receiver)
	return receiver
}

// Notify sends a new notification event.
func (n *Notifier[T]) Notify(event T) {
	n.pending.Add(event)
}

// Close closes the notifier and all receivers created from it.
func (n *Notifier[T]) Close() {
	if n.closed.Swap(true) {
		return
	}

	close(n.closeCh)
	n.wg.Wait()

	n.receivers.Range(func(_, value any) bool {
		value.(*Receiver[T]).Close()
		return true
	})
}

// Flush blocks until all events sent before the call have been
// delivered, the notifier is closed, or the context is canceled.
func (n *Notifier[T]) Flush(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-n.closeCh:
			return nil
		case <-n.synchronizeCh:
			// Run loop is idle between events now.
		}

		if n.pending.Size() == 0 {
			return nil
		}
	}
}

func (n *Notifier[T]) run() {
	defer func() {
		close(n.synchronizeCh)
	}()

	for {
		select {
		case <-n.closeCh:
			return
		case n.synchronizeCh <- struct{}{}:
			// Synchronization barrier for Flush and Receiver.Close.
		case <-n.pending.C:
			if !n.deliverPending() {
				return
			}
		}
	}
}

// deliverPending drains the pending queue, broadcasting each event to
// all live receivers. It returns false if the notifier was closed.
func (n *Notifier[T]) deliverPending() bool {
	for {
		event, ok := n.pending.Pop()
		if !ok {
			return true
		}

		interrupted := false
		n.receivers.Range(func(_, value any) bool {
			receiver := value.(*Receiver[T])

			select {
			case <-n.closeCh:
				interrupted = true
				return false
			case <-receiver.closed:
				// Receiver is shutting down, skip it.
			case receiver.C <- event:
			}
			return true
		})
		if interrupted {
			return false
		}

		select {
		case <-n.closeCh:
			return false
		default:
		}
	}
}
