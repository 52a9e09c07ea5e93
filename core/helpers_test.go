package core

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// goroutineID parses the current goroutine's id from its stack header. Tests
// use it to tell which goroutine ran a step.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

type recordingReporter struct {
	mu       sync.Mutex
	failures []StepFailure
}

func (r *recordingReporter) ReportFailure(ctx context.Context, f StepFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recordingReporter) Failures() []StepFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepFailure(nil), r.failures...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingReporter) {
	t.Helper()
	reporter := &recordingReporter{}
	executor := NewGoExecutor()
	t.Cleanup(executor.Close)

	s := NewSchedulerWithConfig(&SchedulerConfig{
		Name:            t.Name(),
		Executor:        executor,
		Logger:          NewNoOpLogger(),
		FailureReporter: reporter,
	})
	return s, reporter
}

// runWithTimeout runs s.Run on the calling goroutine and fails the test if it
// has not returned within timeout.
func runWithTimeout(t *testing.T, s *Scheduler, ctx context.Context, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.Run(ctx)
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("Run did not return within %v", timeout)
	}
	return err
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// scriptTasklet returns its directives in order, then DONE. It records the
// goroutine and ownership of every step.
type scriptTasklet struct {
	mu         sync.Mutex
	directives []Directive
	steps      int
	goroutines []uint64
	owned      []bool
	schedulers []*Scheduler
}

func newScript(directives ...Directive) *scriptTasklet {
	return &scriptTasklet{directives: directives}
}

func (s *scriptTasklet) Step(ctx context.Context) (Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched := SchedulerFromContext(ctx)
	s.goroutines = append(s.goroutines, goroutineID())
	s.schedulers = append(s.schedulers, sched)
	s.owned = append(s.owned, sched != nil && sched.Owns(ctx))

	d := DirectiveDone
	if s.steps < len(s.directives) {
		d = s.directives[s.steps]
	}
	s.steps++
	return d, nil
}

func (s *scriptTasklet) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}
