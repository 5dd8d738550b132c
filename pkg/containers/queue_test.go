package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceQueueBasics(t *testing.T) {
	q := NewSliceQueue[int]()

	_, ok := q.Pop()
	require.False(t, ok)

	q.Add(1)
	q.Add(2)
	require.Equal(t, 2, q.Size())

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, 1, head)

	head, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, head)

	head, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, head)
	require.Equal(t, 0, q.Size())
}

func TestSliceQueueSignal(t *testing.T) {
	const numElems = 10000

	q := NewSliceQueue[int]()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		expected := 0
		for expected < numElems {
			<-q.C
			for {
				elem, ok := q.Pop()
				if !ok {
					break
				}
				require.Equal(t, expected, elem)
				expected++
			}
		}
	}()

	for i := 0; i < numElems; i++ {
		q.Add(i)
	}
	wg.Wait()
}
