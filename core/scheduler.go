package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler multiplexes tasklets over one synchronous owner and an Executor.
//
// The synchronous owner is whichever context carries the scheduler's current
// owner token: the context passed to Run, or the one returned by SetAuto.
// Only the owner steps SYNC tasklets, so at most one synchronous step runs at
// a time. ASYNC steps run on the Executor and feed their directive back
// through Schedule.
type Scheduler struct {
	name     string
	executor Executor
	logger   Logger
	metrics  Metrics
	reporter FailureReporter
	history  *stepHistory

	mu          sync.Mutex
	changed     chan struct{}
	pending     map[*Handle]Directive
	aliases     map[Tasklet]*Handle
	ready       *readyQueue
	stepping    map[*Handle]bool // in a step; true once completed from outside it
	inflight    int
	owner       *ownerToken
	activeLoops int
	auto        bool

	syncSteps  atomic.Int64
	asyncSteps atomic.Int64
	failures   atomic.Int64
	rejected   atomic.Int64
}

// NewScheduler creates a Scheduler with the default config.
func NewScheduler() *Scheduler {
	return NewSchedulerWithConfig(DefaultSchedulerConfig())
}

// NewSchedulerWithConfig creates a Scheduler. Nil config fields get defaults.
func NewSchedulerWithConfig(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	s := &Scheduler{
		name:     config.Name,
		executor: config.Executor,
		logger:   config.Logger,
		metrics:  config.Metrics,
		reporter: config.FailureReporter,
		history:  newStepHistory(config.HistoryCapacity),
		changed:  make(chan struct{}),
		pending:  make(map[*Handle]Directive),
		aliases:  make(map[Tasklet]*Handle),
		ready:    newReadyQueue(),
		stepping: make(map[*Handle]bool),
	}

	if s.name == "" {
		s.name = "scheduler"
	}
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	if s.executor == nil {
		e := NewGoExecutor()
		e.SetLogger(s.logger)
		s.executor = e
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.reporter == nil {
		s.reporter = NewLogFailureReporter(s.logger, defaultFailureLogRate)
	}

	return s
}

// Name returns the scheduler name used in logs and metrics.
func (s *Scheduler) Name() string { return s.name }

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() Logger { return s.logger }

// =============================================================================
// Schedule / Suspend
// =============================================================================

// Schedule records directive d for tasklet t:
//
//   - DirectiveSync queues t for the synchronous owner (moving it to the back
//     if it was already queued)
//   - DirectiveAsync parks t and submits one step to the Executor; it fails
//     with ErrSchedulerNotRunning unless a Run loop is active
//   - DirectiveWait parks t until it is scheduled again
//   - DirectiveDone drops t
//
// If ctx carries the owner token, Schedule then steps every ready tasklet on
// the calling goroutine, including those made ready along the way, before it
// returns. Step failures while draining are reported, never returned.
func (s *Scheduler) Schedule(ctx context.Context, t Tasklet, d Directive) error {
	_, err := s.schedule(ctx, t, d)
	return err
}

// Suspend parks t and returns the capability that resumes it. The holder must
// eventually call Resume exactly once; a tasklet that is never resumed keeps
// Run from returning.
func (s *Scheduler) Suspend(ctx context.Context, t Tasklet) (Rescheduler, error) {
	h, err := s.schedule(ctx, t, DirectiveWait)
	if err != nil {
		return Rescheduler{}, err
	}
	return Rescheduler{scheduler: s, handle: h}, nil
}

func (s *Scheduler) schedule(ctx context.Context, t Tasklet, d Directive) (*Handle, error) {
	if t == nil {
		return nil, ErrNilTasklet
	}
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirective, int(d))
	}

	s.mu.Lock()
	h := s.resolveLocked(t)
	s.mu.Unlock()

	if err := s.apply(ctx, h, d, false); err != nil {
		return h, err
	}
	s.drain(ctx)
	return h, nil
}

// resolveLocked maps t to the handle the scheduler tracks it by.
func (s *Scheduler) resolveLocked(t Tasklet) *Handle {
	if h, ok := t.(*Handle); ok {
		return h
	}
	if key, ok := identityKey(t); ok {
		if h, ok := s.aliases[key]; ok {
			return h
		}
	}
	return NewHandle(t)
}

// apply records d for h and, for ASYNC, submits the step once the lock is
// released. A WAIT produced by a step does not undo a SYNC resume that
// arrived while the step was running.
func (s *Scheduler) apply(ctx context.Context, h *Handle, d Directive, stepResult bool) error {
	s.mu.Lock()
	if _, inStep := s.stepping[h]; inStep && !stepResult {
		s.stepping[h] = d == DirectiveDone
	}
	switch d {
	case DirectiveSync:
		s.pending[h] = DirectiveSync
		s.ready.Push(h)
		s.bindLocked(h)
	case DirectiveWait:
		if stepResult && s.pending[h] == DirectiveSync && s.ready.Contains(h) {
			break
		}
		s.pending[h] = DirectiveWait
		s.ready.Remove(h)
		s.bindLocked(h)
	case DirectiveAsync:
		if s.activeLoops == 0 {
			s.mu.Unlock()
			s.rejected.Add(1)
			s.metrics.RecordRejected(s.name, "not_running")
			return ErrSchedulerNotRunning
		}
		s.pending[h] = DirectiveWait
		s.ready.Remove(h)
		s.bindLocked(h)
	case DirectiveDone:
		s.forgetLocked(h)
	}
	ready, pending := s.ready.Len(), len(s.pending)
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(s.name, ready, pending)

	if d == DirectiveAsync {
		s.dispatch(ctx, h)
	}
	return nil
}

// bindLocked lets later Schedule calls with the same pointer find h.
func (s *Scheduler) bindLocked(h *Handle) {
	key, ok := identityKey(h.tasklet)
	if !ok {
		return
	}
	if _, bound := s.aliases[key]; !bound {
		s.aliases[key] = h
	}
}

func (s *Scheduler) forgetLocked(h *Handle) {
	delete(s.pending, h)
	s.ready.Remove(h)
	if key, ok := identityKey(h.tasklet); ok && s.aliases[key] == h {
		delete(s.aliases, key)
	}
}

// begin marks h as being stepped.
func (s *Scheduler) begin(h *Handle) {
	s.mu.Lock()
	s.stepping[h] = false
	s.mu.Unlock()
}

// settle records the directive a step produced. A WAIT from a step whose
// tasklet was completed from outside while it ran is taken as DONE. A result
// the scheduler cannot accept is reported and the tasklet is dropped.
func (s *Scheduler) settle(ctx context.Context, h *Handle, d Directive, mode StepMode) {
	s.mu.Lock()
	completed := s.stepping[h]
	delete(s.stepping, h)
	s.mu.Unlock()
	if completed && d == DirectiveWait {
		d = DirectiveDone
	}

	if err := s.apply(ctx, h, d, true); err != nil {
		s.abandon(ctx, h, mode, err)
	}
}

func (s *Scheduler) abandon(ctx context.Context, h *Handle, mode StepMode, err error) {
	s.mu.Lock()
	s.forgetLocked(h)
	s.notifyLocked()
	s.mu.Unlock()

	s.failures.Add(1)
	s.metrics.RecordStepFailure(s.name, mode)
	s.reporter.ReportFailure(ctx, StepFailure{
		SchedulerName: s.name,
		TaskletID:     h.id,
		TaskletName:   h.name,
		Mode:          mode,
		Err:           err,
	})
}

// =============================================================================
// Synchronous draining
// =============================================================================

// drain steps ready tasklets on the calling goroutine for as long as ctx
// carries the owner token and is not done.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if !s.ownedByLocked(ctx) {
			s.mu.Unlock()
			return
		}
		h, ok := s.dequeueLocked()
		if ok {
			s.inflight++
			s.stepping[h] = false
		}
		s.mu.Unlock()
		if !ok {
			return
		}

		d := s.step(withHandle(WithScheduler(ctx, s), h), h, StepModeSync)
		s.settle(ctx, h, d, StepModeSync)

		s.mu.Lock()
		s.inflight--
		s.notifyLocked()
		s.mu.Unlock()
	}
}

// dequeueLocked pops the next tasklet whose recorded directive is still SYNC.
// A tasklet parked since it was queued goes back to the registry; one with no
// record is treated as finished.
func (s *Scheduler) dequeueLocked() (*Handle, bool) {
	for {
		h, ok := s.ready.PopFront()
		if !ok {
			return nil, false
		}
		d, live := s.pending[h]
		delete(s.pending, h)
		switch {
		case live && d == DirectiveSync:
			return h, true
		case live && d == DirectiveWait:
			s.pending[h] = DirectiveWait
		default:
			s.forgetLocked(h)
		}
	}
}

func (s *Scheduler) ownedByLocked(ctx context.Context) bool {
	return tokenFor(ctx, s).same(s.owner)
}

// emptyLocked reports whether no tasklet is pending or ready. Steps in flight
// on the owner are not counted; the owner's own loop is what is running them.
func (s *Scheduler) emptyLocked() bool {
	return len(s.pending) == 0 && s.ready.Len() == 0
}

// idleLocked is emptyLocked with no synchronous step in flight either.
func (s *Scheduler) idleLocked() bool {
	return s.emptyLocked() && s.inflight == 0
}

// =============================================================================
// Async dispatch
// =============================================================================

// dispatch submits one step of h to the Executor. The step context keeps the
// values of ctx but not its cancellation or ownership; its ambient scheduler
// is s. A unit the executor calls with an already-cancelled context was
// dropped without running, and h is settled as a rejection.
func (s *Scheduler) dispatch(ctx context.Context, h *Handle) {
	actx := withHandle(WithScheduler(Detach(context.WithoutCancel(ctx)), s), h)

	err := s.executor.Submit(func(tctx context.Context) {
		if tctx.Err() != nil {
			s.reject(actx, h, context.Cause(tctx))
			return
		}
		s.begin(h)
		d := s.step(actx, h, StepModeAsync)
		s.settle(actx, h, d, StepModeAsync)
	})
	if err != nil {
		s.reject(actx, h, err)
	}
}

func (s *Scheduler) reject(ctx context.Context, h *Handle, err error) {
	s.rejected.Add(1)
	s.metrics.RecordRejected(s.name, "executor")
	s.logger.Warn("executor rejected async step",
		F("scheduler", s.name),
		F("tasklet", h.String()),
		F("err", err),
	)
	s.abandon(ctx, h, StepModeAsync, fmt.Errorf("%w: %w", ErrExecutorRejected, err))
}

// =============================================================================
// Stepping
// =============================================================================

// step runs one step of h. A failed step yields DirectiveDone.
func (s *Scheduler) step(ctx context.Context, h *Handle, mode StepMode) Directive {
	var (
		d       Directive
		err     error
		recov   any
		stack   []byte
		started = time.Now()
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				recov = r
				stack = debug.Stack()
				err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
			}
		}()
		d, err = h.Step(ctx)
	}()

	if err == nil && !d.Valid() {
		err = fmt.Errorf("%w: %d", ErrInvalidDirective, int(d))
	}
	failed := err != nil
	if failed {
		d = DirectiveDone
	}

	finished := time.Now()
	duration := finished.Sub(started)

	if mode == StepModeAsync {
		s.asyncSteps.Add(1)
	} else {
		s.syncSteps.Add(1)
	}
	s.history.Add(StepRecord{
		TaskletID:   h.id,
		TaskletName: h.name,
		Scheduler:   s.name,
		Mode:        mode,
		Directive:   d,
		StartedAt:   started,
		FinishedAt:  finished,
		Duration:    duration,
		Failed:      failed,
		Panicked:    recov != nil,
	})
	s.metrics.RecordStep(s.name, mode, d, duration)

	if failed {
		s.failures.Add(1)
		s.metrics.RecordStepFailure(s.name, mode)
		s.reporter.ReportFailure(ctx, StepFailure{
			SchedulerName: s.name,
			TaskletID:     h.id,
			TaskletName:   h.name,
			Mode:          mode,
			Err:           err,
			Panic:         recov,
			Stack:         stack,
		})
	}
	return d
}

// =============================================================================
// Run loop
// =============================================================================

// Run drives the synchronous loop until no tasklet is pending, ready or being
// stepped, then returns nil.
//
// If ctx already carries the owner token (a nested Run, or an auto-start
// owner) Run joins that ownership. Otherwise it claims ownership, waiting for
// the current owner to release it; a waiting Run returns as soon as the
// scheduler is empty. Cancelling ctx stops the loop after the step in progress
// and returns ctx.Err(); tasklets still pending are left as they are.
//
// ctx must not be a context produced for an async step of this scheduler's
// tasklets while the owner waits on that step.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	for !s.ownedByLocked(ctx) {
		if s.idleLocked() {
			s.mu.Unlock()
			return nil
		}
		if s.owner == nil {
			tok := newOwnerToken(s)
			s.owner = tok
			ctx = withOwner(ctx, tok)
			break
		}
		if err := s.waitLocked(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.activeLoops++
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.Debug("run loop started", F("scheduler", s.name))
	defer s.leave()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.drain(ctx)

		s.mu.Lock()
		if s.ready.Len() > 0 {
			s.mu.Unlock()
			continue
		}
		if s.emptyLocked() {
			s.mu.Unlock()
			return nil
		}
		err := s.waitLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.activeLoops--
	if s.activeLoops == 0 && !s.auto {
		s.owner = nil
	}
	loops := s.activeLoops
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.Debug("run loop stopped", F("scheduler", s.name), F("active_loops", loops))
}

// waitLocked blocks until the next state change or until ctx is done. It is
// called and returns with s.mu held.
func (s *Scheduler) waitLocked(ctx context.Context) error {
	ch := s.changed
	s.mu.Unlock()
	defer s.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyLocked wakes every goroutine blocked in waitLocked.
func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// =============================================================================
// Auto-start
// =============================================================================

// SetAuto turns the auto-start policy on or off.
//
// Turning it on makes the caller the synchronous owner if there is none, and
// returns ctx carrying the owner token; SYNC tasklets scheduled with that
// context step inline without a Run loop. Auto-start alone does not accept
// ASYNC directives. Turning it off releases ownership unless a Run loop is
// active.
func (s *Scheduler) SetAuto(ctx context.Context, on bool) context.Context {
	s.mu.Lock()
	if !on {
		s.auto = false
		released := false
		if s.activeLoops == 0 && s.owner != nil {
			s.owner = nil
			released = true
		}
		s.notifyLocked()
		s.mu.Unlock()
		if released {
			return withoutOwner(ctx, s)
		}
		return ctx
	}

	s.auto = true
	if s.owner == nil {
		tok := newOwnerToken(s)
		s.owner = tok
		ctx = withOwner(ctx, tok)
	}
	owned := s.ownedByLocked(ctx)
	s.notifyLocked()
	s.mu.Unlock()

	if owned {
		s.drain(ctx)
	}
	return ctx
}

// Auto reports whether the auto-start policy is on.
func (s *Scheduler) Auto() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// Owns reports whether ctx carries this scheduler's current owner token.
func (s *Scheduler) Owns(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedByLocked(ctx)
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	stats := SchedulerStats{
		Name:        s.name,
		Ready:       s.ready.Len(),
		Pending:     len(s.pending),
		Owned:       s.owner != nil,
		ActiveLoops: s.activeLoops,
		Auto:        s.auto,
	}
	for _, h := range s.ready.Handles() {
		stats.ReadyTasklets = append(stats.ReadyTasklets, h.name)
	}
	s.mu.Unlock()

	stats.SyncSteps = s.syncSteps.Load()
	stats.AsyncSteps = s.asyncSteps.Load()
	stats.Failures = s.failures.Load()
	stats.Rejected = s.rejected.Load()
	if last, ok := s.history.Last(); ok {
		stats.LastTasklet = last.TaskletName
		stats.LastStepAt = last.FinishedAt
	}
	return stats
}

// RecentSteps returns up to limit completed steps, newest first.
// limit <= 0 returns the whole history.
func (s *Scheduler) RecentSteps(limit int) []StepRecord {
	return s.history.Recent(limit)
}
