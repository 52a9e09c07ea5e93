package tasklet

import (
	"context"

	"github.com/wildducktheories/tasklet/core"
)

// =============================================================================
// Scheduler construction
// =============================================================================

// Option configures a Scheduler created by NewScheduler.
type Option func(*core.SchedulerConfig)

// WithName sets the name used in logs, metrics and step history.
func WithName(name string) Option {
	return func(c *core.SchedulerConfig) { c.Name = name }
}

// WithExecutor sets the facility async steps run on, e.g. a GoroutineThreadPool.
func WithExecutor(e core.Executor) Option {
	return func(c *core.SchedulerConfig) { c.Executor = e }
}

// WithLogger sets the scheduler logger. The default failure reporter logs
// through it too, unless WithFailureReporter is also given.
func WithLogger(l core.Logger) Option {
	return func(c *core.SchedulerConfig) {
		c.Logger = l
		if _, ok := c.FailureReporter.(*core.LogFailureReporter); ok {
			c.FailureReporter = nil
		}
	}
}

// WithMetrics sets the metrics sink, e.g. a prometheus MetricsExporter.
func WithMetrics(m core.Metrics) Option {
	return func(c *core.SchedulerConfig) { c.Metrics = m }
}

// WithFailureReporter sets where step failures are reported.
func WithFailureReporter(r core.FailureReporter) Option {
	return func(c *core.SchedulerConfig) { c.FailureReporter = r }
}

// WithHistoryCapacity bounds the number of steps RecentSteps keeps.
func WithHistoryCapacity(n int) Option {
	return func(c *core.SchedulerConfig) { c.HistoryCapacity = n }
}

// NewScheduler creates a Scheduler with auto-start off. Call Run to drive it.
func NewScheduler(opts ...Option) *Scheduler {
	config := core.DefaultSchedulerConfig()
	for _, opt := range opts {
		opt(config)
	}
	return core.NewSchedulerWithConfig(config)
}

// =============================================================================
// Ambient scheduler
// =============================================================================

// Current returns the ambient scheduler of ctx. If there is none it creates
// an auto-start scheduler owned by the caller and returns a context bound to
// it; keep using that context so later calls find the same scheduler and SYNC
// tasklets step inline.
func Current(ctx context.Context) (context.Context, *Scheduler) {
	if s := core.SchedulerFromContext(ctx); s != nil {
		return ctx, s
	}
	s := NewScheduler(WithName("default"))
	ctx = s.SetAuto(core.WithScheduler(ctx, s), true)
	return ctx, s
}

// With runs one step of t with s as the ambient scheduler and schedules t on
// s with the directive the step returned. A failed step is returned and t is
// not scheduled. The caller's ctx is not modified.
func With(ctx context.Context, s *Scheduler, t Tasklet) error {
	if t == nil {
		return core.ErrNilTasklet
	}
	sctx := core.WithScheduler(ctx, s)
	d, err := t.Step(sctx)
	if err != nil {
		return err
	}
	return s.Schedule(sctx, t, d)
}

// Reset returns ctx without an ambient scheduler or synchronous ownership.
// Use it before handing a context to a goroutine that outlives the call, so
// it does not keep a scheduler reachable or act as its owner.
func Reset(ctx context.Context) context.Context {
	return core.Detach(ctx)
}
