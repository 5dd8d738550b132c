package promise

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolveAndWait(t *testing.T) {
	p, fut := New[int]()
	go p.Resolve(42)

	val, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, val)

	// A second wait observes the same result.
	val, err = fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestRejectWinsOnlyOnce(t *testing.T) {
	p, fut := New[int]()
	p.Reject(errors.New("boom"))
	p.Resolve(1)

	_, err := fut.Wait(context.Background())
	require.Error(t, err)
	require.Regexp(t, "boom", err)
}

func TestWaitCancellation(t *testing.T) {
	_, fut := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJoinWaitsForAllBeforeFailing(t *testing.T) {
	p1, f1 := New[struct{}]()
	p2, f2 := New[struct{}]()
	joined := Join(f1, f2, Resolved(struct{}{}))

	p1.Reject(errors.New("slot release failed"))
	select {
	case <-joined.Done():
		t.Fatal("join completed before all inputs finished")
	case <-time.After(10 * time.Millisecond):
	}

	p2.Resolve(struct{}{})
	_, err := joined.Wait(context.Background())
	require.Error(t, err)
	require.Regexp(t, "slot release failed", err)
}

func TestJoinEmpty(t *testing.T) {
	_, err := Join[struct{}]().Wait(context.Background())
	require.NoError(t, err)
}
