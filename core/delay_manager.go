package core

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDelayManagerStopped is returned by SuspendFor after Stop.
var ErrDelayManagerStopped = errors.New("tasklet: delay manager stopped")

// DelayedResume is a parked tasklet waiting for its resume time.
type DelayedResume struct {
	RunAt     time.Time
	Resumer   Rescheduler
	Directive Directive
	ctx       context.Context
	index     int // for heap interface
}

// DelayedResumeHeap implements heap.Interface
type DelayedResumeHeap []*DelayedResume

func (h DelayedResumeHeap) Len() int           { return len(h) }
func (h DelayedResumeHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedResumeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedResumeHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedResume)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedResumeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedResumeHeap) Peek() *DelayedResume {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager resumes parked tasklets once their delay has passed. One
// goroutine serves every entry; a tasklet that wants to sleep parks itself
// with Suspend, hands the Rescheduler to ResumeAfter and returns WAIT.
type DelayManager struct {
	pq      DelayedResumeHeap
	mu      sync.Mutex
	stopped bool
	wakeup  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedResumeHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// ResumeAfter resumes r with d once delay has passed. ctx supplies the values
// of the resume context; its cancellation and ownership are dropped. After
// Stop, r is resumed with DirectiveDone at once, as Stop does for the entries
// it finds.
func (dm *DelayManager) ResumeAfter(ctx context.Context, r Rescheduler, d Directive, delay time.Duration) {
	item := &DelayedResume{
		RunAt:     time.Now().Add(delay),
		Resumer:   r,
		Directive: d,
		ctx:       Detach(context.WithoutCancel(ctx)),
	}

	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		dm.resume(item, DirectiveDone)
		return
	}
	dm.pushLocked(item)
	dm.mu.Unlock()
}

// SuspendFor parks t on s and resumes it with DirectiveSync after delay.
// Call it from a step and return DirectiveWait. It never steps other
// tasklets, even when ctx carries the owner token, so the caller's step
// cannot be re-entered before it returns. After Stop it returns
// ErrDelayManagerStopped and t is not parked.
func (dm *DelayManager) SuspendFor(ctx context.Context, s *Scheduler, t Tasklet, delay time.Duration) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.stopped {
		return ErrDelayManagerStopped
	}

	r, err := s.Suspend(Detach(ctx), t)
	if err != nil {
		return err
	}
	dm.pushLocked(&DelayedResume{
		RunAt:     time.Now().Add(delay),
		Resumer:   r,
		Directive: DirectiveSync,
		ctx:       Detach(context.WithoutCancel(ctx)),
	})
	return nil
}

func (dm *DelayManager) pushLocked(item *DelayedResume) {
	heap.Push(&dm.pq, item)
	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, ok := dm.calculateNextRun()
		if !ok {
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun returns how long to wait for the earliest entry; false
// means there is none.
func (dm *DelayManager) calculateNextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}
	return max(time.Until(item.RunAt), 0), true
}

func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*DelayedResume
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	// Resume outside the lock
	for _, item := range expired {
		dm.resume(item, item.Directive)
	}
}

func (dm *DelayManager) resume(item *DelayedResume, d Directive) {
	if err := item.Resumer.Resume(item.ctx, d); err != nil && item.Resumer.scheduler != nil {
		item.Resumer.scheduler.logger.Warn("delayed resume failed",
			F("tasklet", item.Resumer.handle.String()),
			F("directive", d),
			F("err", err),
		)
	}
}

// Stop stops the timer goroutine and completes every entry still waiting, so
// a Run loop is not kept alive by tasklets that will never be resumed. Later
// calls to ResumeAfter and SuspendFor never queue.
func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.stopped = true
	remaining := dm.pq
	dm.pq = make(DelayedResumeHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()

	for _, item := range remaining {
		dm.resume(item, DirectiveDone)
	}
}

func (dm *DelayManager) Count() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
