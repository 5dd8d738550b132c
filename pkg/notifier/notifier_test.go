package notifier

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNotifierBasics(t *testing.T) {
	n := NewNotifier[int]()
	defer n.Close()

	const (
		numReceivers = 10
		numEvents    = 10000
		finEv        = math.MaxInt
	)
	var wg sync.WaitGroup

	for i := 0; i < numReceivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r := n.NewReceiver()
			defer r.Close()

			var lastEv int
			for ev := range r.C {
				if ev == finEv {
					return
				}
				if lastEv != 0 {
					require.Equal(t, lastEv+1, ev)
				}
				lastEv = ev
			}
		}()
	}

	for i := 1; i <= numEvents; i++ {
		n.Notify(i)
	}

	n.Notify(finEv)
	err := n.Flush(context.Background())
	require.NoError(t, err)

	wg.Wait()
}

func TestNotifierClose(t *testing.T) {
	n := NewNotifier[int]()

	const numReceivers = 200

	var wg sync.WaitGroup
	for i := 0; i < numReceivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r := n.NewReceiver()
			_, ok := <-r.C
			require.False(t, ok)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	n.Close()
	wg.Wait()
}

func TestReceiverCloseWhileDelivering(t *testing.T) {
	n := NewNotifier[int]()
	defer n.Close()

	r := n.NewReceiver()
	// Twice the receiver buffer size, so the delivery loop is
	// blocked on a full C that nobody drains when Close is called.
	for i := 0; i < 32; i++ {
		n.Notify(i)
	}

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Receiver.Close blocked on a full, undrained channel")
	}

	// The remaining events are dropped for the dead receiver and the
	// queue still drains.
	require.NoError(t, n.Flush(context.Background()))
}

func TestFlushReturnsAfterClose(t *testing.T) {
	n := NewNotifier[int]()

	r := n.NewReceiver()
	defer r.Close()
	for i := 0; i < 32; i++ {
		n.Notify(i)
	}
	n.Close()

	// With the run loop gone, Flush must return instead of spinning
	// until the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Flush(ctx))
	require.NoError(t, ctx.Err())
}

func TestClosedReceiverDetached(t *testing.T) {
	n := NewNotifier[int]()
	defer n.Close()

	r := n.NewReceiver()
	r.Close()

	count := 0
	n.receivers.Range(func(_, _ any) bool {
		count++
		return true
	})
	require.Equal(t, 0, count)

	// Events published after the close must not pile up behind the
	// dead receiver.
	for i := 0; i < 64; i++ {
		n.Notify(i)
	}
	require.NoError(t, n.Flush(context.Background()))
}
