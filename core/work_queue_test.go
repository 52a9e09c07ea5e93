package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_FIFO(t *testing.T) {
	q := NewWorkQueue(1)
	var order []int
	for i := range 3 {
		require.NoError(t, q.Push(func(ctx context.Context) { order = append(order, i) }))
	}
	assert.Equal(t, 3, q.QueuedTaskCount())

	stop := make(chan struct{})
	for range 3 {
		task, ok := q.GetWork(stop)
		require.True(t, ok)
		task(context.Background())
	}

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, 0, q.QueuedTaskCount())
}

func TestWorkQueue_GetWorkStops(t *testing.T) {
	q := NewWorkQueue(1)
	stop := make(chan struct{})
	done := make(chan bool, 1)

	go func() {
		_, ok := q.GetWork(stop)
		done <- ok
	}()
	close(stop)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("GetWork did not return after stop")
	}
}

func TestWorkQueue_Shutdown(t *testing.T) {
	q := NewWorkQueue(2)
	require.NoError(t, q.Push(func(ctx context.Context) {}))
	require.NoError(t, q.Push(func(ctx context.Context) {}))

	dropped := q.Shutdown()

	assert.Len(t, dropped, 2)
	assert.Equal(t, 0, q.QueuedTaskCount())
	assert.ErrorIs(t, q.Push(func(ctx context.Context) {}), ErrWorkQueueClosed)

	q.Reopen()
	assert.NoError(t, q.Push(func(ctx context.Context) {}))
}

func TestWorkQueue_ShutdownGracefulTimeout(t *testing.T) {
	q := NewWorkQueue(1)
	require.NoError(t, q.Push(func(ctx context.Context) {}))

	dropped, err := q.ShutdownGraceful(30 * time.Millisecond)

	require.Error(t, err)
	assert.Len(t, dropped, 1)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, 0, q.QueuedTaskCount())
}

func TestWorkQueue_QueuedCountNeverNegative(t *testing.T) {
	q := NewWorkQueue(4)
	stop := make(chan struct{})

	const n = 2000
	var wg sync.WaitGroup
	var negative atomic.Bool
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.GetWork(stop)
				if !ok {
					return
				}
				if q.QueuedTaskCount() < 0 {
					negative.Store(true)
				}
				task(context.Background())
			}
		}()
	}

	var done sync.WaitGroup
	done.Add(n)
	for range n {
		require.NoError(t, q.Push(func(ctx context.Context) { done.Done() }))
		if q.QueuedTaskCount() < 0 {
			negative.Store(true)
		}
	}
	done.Wait()

	assert.False(t, negative.Load(), "queued count went negative")
	assert.Equal(t, 0, q.QueuedTaskCount())
	close(stop)
	wg.Wait()
}
