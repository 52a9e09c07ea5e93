package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// WorkQueue is the unbounded FIFO a worker pool pulls Tasks from.
type WorkQueue struct {
	mu     sync.Mutex
	tasks  deque.Deque[Task]
	signal chan struct{}

	metricQueued atomic.Int32 // waiting in the queue
	metricActive atomic.Int32 // executing in a worker

	shuttingDown atomic.Bool
}

// ErrWorkQueueClosed is returned by Push after Shutdown.
var ErrWorkQueueClosed = errors.New("tasklet: work queue shut down")

// NewWorkQueue creates a WorkQueue served by workerCount workers.
func NewWorkQueue(workerCount int) *WorkQueue {
	return &WorkQueue{signal: make(chan struct{}, max(workerCount, 1)*2)}
}

// Push appends task and wakes a worker.
func (q *WorkQueue) Push(task Task) error {
	if q.shuttingDown.Load() {
		return ErrWorkQueueClosed
	}

	q.mu.Lock()
	q.tasks.PushBack(task)
	q.metricQueued.Add(1)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
		// Signal channel full; the task is queued and a busy worker will see it.
	}
	return nil
}

func (q *WorkQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil, false
	}
	q.metricQueued.Add(-1)
	return q.tasks.PopFront(), true
}

// GetWork blocks until a task is available or stopCh is closed.
func (q *WorkQueue) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if task, ok := q.pop(); ok {
			return task, true
		}

		select {
		case <-q.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown rejects new tasks and removes the queued ones. The removed tasks
// are returned; the caller decides how to retire them.
func (q *WorkQueue) Shutdown() []Task {
	q.shuttingDown.Store(true)
	return q.clear()
}

// ShutdownGraceful rejects new tasks and waits for queued and active tasks to
// finish. On timeout the still-queued tasks are removed and returned with an
// error.
func (q *WorkQueue) ShutdownGraceful(timeout time.Duration) ([]Task, error) {
	q.shuttingDown.Store(true)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if q.QueuedTaskCount() == 0 && q.ActiveTaskCount() == 0 {
			return nil, nil
		}
		select {
		case <-deadline:
			return q.clear(), fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
		}
	}
}

func (q *WorkQueue) clear() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.tasks.Len()
	if n == 0 {
		return nil
	}
	dropped := make([]Task, 0, n)
	for q.tasks.Len() > 0 {
		dropped = append(dropped, q.tasks.PopFront())
	}
	q.metricQueued.Add(int32(-n))
	return dropped
}

// Reopen accepts tasks again after a shutdown.
func (q *WorkQueue) Reopen() { q.shuttingDown.Store(false) }

func (q *WorkQueue) QueuedTaskCount() int { return int(q.metricQueued.Load()) }
func (q *WorkQueue) ActiveTaskCount() int { return int(q.metricActive.Load()) }

func (q *WorkQueue) OnTaskStart() { q.metricActive.Add(1) }
func (q *WorkQueue) OnTaskEnd()   { q.metricActive.Add(-1) }
