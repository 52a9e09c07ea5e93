package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handles(n int) []*Handle {
	out := make([]*Handle, n)
	for i := range out {
		out[i] = NewHandle(DoneTasklet)
	}
	return out
}

// TestReadyQueue_FIFO verifies insertion order is kept
// Given: An empty ready queue
// When: Three handles are pushed and popped
// Then: They come out in insertion order and the queue is empty afterwards
func TestReadyQueue_FIFO(t *testing.T) {
	// Arrange
	q := newReadyQueue()
	hs := handles(3)

	// Act
	for _, h := range hs {
		q.Push(h)
	}

	// Assert
	require.Equal(t, 3, q.Len())
	for i, want := range hs {
		got, ok := q.PopFront()
		require.True(t, ok, "step %d", i)
		assert.Same(t, want, got, "step %d", i)
	}
	_, ok := q.PopFront()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

// TestReadyQueue_PushMovesToBack verifies a re-pushed handle is never duplicated
func TestReadyQueue_PushMovesToBack(t *testing.T) {
	q := newReadyQueue()
	hs := handles(3)
	for _, h := range hs {
		q.Push(h)
	}

	q.Push(hs[0])

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []*Handle{hs[1], hs[2], hs[0]}, q.Handles())
}

// TestReadyQueue_Remove verifies removal skips tombstones on pop
func TestReadyQueue_Remove(t *testing.T) {
	q := newReadyQueue()
	hs := handles(3)
	for _, h := range hs {
		q.Push(h)
	}

	assert.True(t, q.Remove(hs[1]))
	assert.False(t, q.Remove(hs[1]))
	assert.False(t, q.Contains(hs[1]))
	assert.Equal(t, 2, q.Len())

	first, _ := q.PopFront()
	second, _ := q.PopFront()
	assert.Same(t, hs[0], first)
	assert.Same(t, hs[2], second)
}

// TestReadyQueue_Compaction verifies tombstones do not accumulate
// Given: A queue where one handle is pushed many times
// When: Compaction kicks in
// Then: The backing deque stays small and order is preserved
func TestReadyQueue_Compaction(t *testing.T) {
	q := newReadyQueue()
	hs := handles(2)
	q.Push(hs[0])
	q.Push(hs[1])

	for range 1000 {
		q.Push(hs[0])
	}

	assert.Equal(t, 2, q.Len())
	assert.LessOrEqual(t, q.order.Len(), 2*compactMinStale+2)
	assert.Equal(t, []*Handle{hs[1], hs[0]}, q.Handles())
}
