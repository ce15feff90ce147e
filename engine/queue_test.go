package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationQueue_FIFO(t *testing.T) {
	q := NewOperationQueue()
	assert.True(t, q.IsEmpty())

	for _, name := range []string{"a", "b", "c"} {
		q.Push(NewCreateOp(name))
	}

	op, depth, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, "a", op.ToFileName)
	assert.Equal(t, 3, depth)
	assert.Equal(t, 3, q.Len(), "Front must not remove the head")

	for _, want := range []string{"a", "b", "c"} {
		op, err := q.PopFront()
		require.NoError(t, err)
		assert.Equal(t, want, op.ToFileName)
	}
	assert.True(t, q.IsEmpty())
}

func TestOperationQueue_EmptyQueue(t *testing.T) {
	q := NewOperationQueue()

	_, depth, ok := q.Front()
	assert.False(t, ok)
	assert.Zero(t, depth)

	_, err := q.PopFront()
	assert.ErrorIs(t, err, ErrEmptyQueue)
}

func TestOperationQueue_ConcurrentPush(t *testing.T) {
	q := NewOperationQueue()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(NewCreateOp("f"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())
}

func TestOperationQueue_Clear(t *testing.T) {
	q := NewOperationQueue()
	q.Push(NewCreateOp("a"))
	q.Push(NewCreateOp("b"))

	assert.Equal(t, 2, q.Clear())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Clear())

	q.Push(NewCreateOp("c"))
	op, _, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, "c", op.ToFileName)
}
