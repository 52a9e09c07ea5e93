package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Executor runs units of work off the synchronous owner. The scheduler never
// waits for a submitted task; Submit must not block on task completion.
//
// Every task Submit accepts must be called exactly once. An executor that
// shuts down before running an accepted task calls it with a cancelled
// context instead; the scheduler then settles the tasklet as rejected.
type Executor interface {
	Submit(task Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task Task) error

func (f ExecutorFunc) Submit(task Task) error { return f(task) }

// ErrExecutorClosed is returned by GoExecutor.Submit after Close.
var ErrExecutorClosed = errors.New("tasklet: executor closed")

// GoExecutor starts a goroutine per submitted task, so async steps that block
// never starve each other. It is the default Executor.
type GoExecutor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	active atomic.Int32
}

// NewGoExecutor creates a GoExecutor.
func NewGoExecutor() *GoExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoExecutor{ctx: ctx, cancel: cancel, logger: NewDefaultLogger()}
}

// SetLogger replaces the logger used for task panics. Call it before the
// first Submit.
func (e *GoExecutor) SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	e.logger = logger
}

// Submit runs task on a new goroutine. A panicking task is recovered and
// logged; the scheduler recovers step panics itself, so this only catches
// tasks submitted directly.
func (e *GoExecutor) Submit(task Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}

	e.wg.Add(1)
	e.active.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("executor task panicked",
					F("panic", fmt.Sprint(r)),
					F("stack", string(debug.Stack())),
				)
			}
		}()
		task(e.ctx)
	}()
	return nil
}

// ActiveTaskCount returns the number of tasks currently running.
func (e *GoExecutor) ActiveTaskCount() int {
	return int(e.active.Load())
}

// Close rejects further submissions and waits for running tasks to return.
func (e *GoExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
