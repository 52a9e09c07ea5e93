package tasklet

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wildducktheories/tasklet/core"
)

// ErrPoolNotRunning is returned by Submit when the pool has not been started
// or has been stopped.
var ErrPoolNotRunning = errors.New("tasklet: thread pool not running")

// GoroutineThreadPool manages a fixed set of worker goroutines pulling from
// an unbounded FIFO. It implements core.Executor, so a Scheduler can run its
// async steps on it.
type GoroutineThreadPool struct {
	id        string
	workers   int
	queue     *core.WorkQueue
	logger    core.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewGoroutineThreadPool creates a new GoroutineThreadPool
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &GoroutineThreadPool{
		id:      id,
		workers: workers,
		queue:   core.NewWorkQueue(workers),
		logger:  core.NewDefaultLogger(),
	}
}

// SetLogger replaces the logger used for worker panics.
func (tg *GoroutineThreadPool) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	tg.logger = logger
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.queue.Reopen()
	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Submit queues task for a worker. It implements core.Executor.
func (tg *GoroutineThreadPool) Submit(task core.Task) error {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()

	if !tg.running {
		return fmt.Errorf("%w: %s", ErrPoolNotRunning, tg.id)
	}
	return tg.queue.Push(task)
}

// Stop stops the thread pool. Tasks still queued are not executed: each is
// called once with a cancelled context so its owner can settle it.
func (tg *GoroutineThreadPool) Stop() {
	// Always shut the queue down to release queued tasks,
	// even if pool was never started
	dropped := tg.queue.Shutdown()

	tg.runningMu.Lock()
	wasRunning := tg.running
	tg.running = false
	tg.runningMu.Unlock()

	if wasRunning {
		if tg.cancel != nil {
			tg.cancel()
		}
		tg.Join()
	}
	tg.retire(dropped)
}

// StopGraceful stops the thread pool gracefully, waiting for queued tasks to complete
// Returns error if timeout is exceeded before tasks complete; the tasks still
// queued then are retired as in Stop.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return nil
	}
	tg.running = false
	tg.runningMu.Unlock()

	dropped, err := tg.queue.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()
	tg.retire(dropped)
	return err
}

// retire hands each dropped task a context that is already cancelled with
// ErrPoolNotRunning as its cause.
func (tg *GoroutineThreadPool) retire(tasks []core.Task) {
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(fmt.Errorf("%w: %s", ErrPoolNotRunning, tg.id))

	tg.logger.Warn("retiring queued tasks on stop",
		F("pool", tg.id),
		F("count", len(tasks)),
	)
	for _, task := range tasks {
		tg.run(-1, ctx, task)
	}
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.queue.GetWork(stopCh)
		if !ok {
			return
		}

		tg.run(id, ctx, task)
	}
}

// run executes one task, recovering and logging a panic.
func (tg *GoroutineThreadPool) run(worker int, ctx context.Context, task core.Task) {
	tg.queue.OnTaskStart()
	defer func() {
		tg.queue.OnTaskEnd()
		if r := recover(); r != nil {
			tg.logger.Error("worker task panicked",
				F("pool", tg.id),
				F("worker", worker),
				F("panic", fmt.Sprint(r)),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	task(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.queue.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.queue.ActiveTaskCount()
}

// Stats returns a snapshot for observability exporters.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Running: tg.IsRunning(),
	}
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// NewPooledScheduler creates a Scheduler whose async steps run on the global
// thread pool. InitGlobalThreadPool must have been called.
func NewPooledScheduler(opts ...Option) *Scheduler {
	opts = append([]Option{WithExecutor(GetGlobalThreadPool())}, opts...)
	return NewScheduler(opts...)
}
