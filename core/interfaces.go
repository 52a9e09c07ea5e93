package core

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// FailureReporter: Interface for handling failed steps
// =============================================================================

// StepFailure describes a step that returned an error or panicked. The
// scheduler has already treated the tasklet as DONE when this is reported.
type StepFailure struct {
	SchedulerName string
	TaskletID     TaskletID
	TaskletName   string
	Mode          StepMode
	Err           error

	// Panic and Stack are set when the step panicked.
	Panic any
	Stack []byte
}

// FailureReporter receives step failures.
//
// Implementations should be thread-safe: async steps fail on executor
// goroutines while sync steps fail on the owner.
type FailureReporter interface {
	ReportFailure(ctx context.Context, f StepFailure)
}

// FailureReporterFunc adapts a function to FailureReporter.
type FailureReporterFunc func(ctx context.Context, f StepFailure)

func (fn FailureReporterFunc) ReportFailure(ctx context.Context, f StepFailure) { fn(ctx, f) }

// LogFailureReporter logs failures through a Logger. Bursts beyond the
// limiter are counted and summarized on the next logged failure.
type LogFailureReporter struct {
	logger     Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewLogFailureReporter creates a reporter that logs at most perSecond failures
// per second (with a burst of the same size). perSecond <= 0 means no limit.
func NewLogFailureReporter(logger Logger, perSecond int) *LogFailureReporter {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	r := &LogFailureReporter{logger: logger}
	if perSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return r
}

// ReportFailure logs f unless the rate limit has been reached.
func (r *LogFailureReporter) ReportFailure(ctx context.Context, f StepFailure) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.suppressed.Add(1)
		return
	}

	fields := []Field{
		F("scheduler", f.SchedulerName),
		F("tasklet", f.TaskletName),
		F("tasklet_id", f.TaskletID.String()),
		F("mode", f.Mode.String()),
		F("err", f.Err),
	}
	if n := r.suppressed.Swap(0); n > 0 {
		fields = append(fields, F("suppressed", n))
	}
	if f.Panic != nil {
		fields = append(fields, F("stack", string(f.Stack)))
		r.logger.Error("tasklet step panicked", fields...)
		return
	}
	r.logger.Warn("tasklet step failed", fields...)
}

// Suppressed returns how many failures were dropped since the last logged one.
func (r *LogFailureReporter) Suppressed() int64 {
	return r.suppressed.Load()
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; RecordStep and RecordQueueDepth run
// on the synchronous owner.
type Metrics interface {
	// RecordStep records one completed step and the directive it produced.
	RecordStep(schedulerName string, mode StepMode, directive Directive, duration time.Duration)

	// RecordStepFailure records a step that failed and was treated as DONE.
	RecordStepFailure(schedulerName string, mode StepMode)

	// RecordQueueDepth records the ready queue length and pending registry size.
	RecordQueueDepth(schedulerName string, ready, pending int)

	// RecordRejected records a directive the scheduler refused, e.g. "not_running".
	RecordRejected(schedulerName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordStep is a no-op.
func (m *NilMetrics) RecordStep(schedulerName string, mode StepMode, directive Directive, duration time.Duration) {
}

// RecordStepFailure is a no-op.
func (m *NilMetrics) RecordStepFailure(schedulerName string, mode StepMode) {
}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(schedulerName string, ready, pending int) {
}

// RecordRejected is a no-op.
func (m *NilMetrics) RecordRejected(schedulerName string, reason string) {
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const defaultFailureLogRate = 20

// SchedulerConfig holds configuration options for Scheduler.
// All fields are optional; defaults are filled in by NewSchedulerWithConfig.
type SchedulerConfig struct {
	// Name labels logs, metrics and failures. Defaults to "scheduler".
	Name string

	// Executor runs async steps. Defaults to a GoExecutor.
	Executor Executor

	// Logger defaults to a zerolog console logger at info level.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// FailureReporter defaults to a LogFailureReporter on Logger.
	FailureReporter FailureReporter

	// HistoryCapacity bounds RecentSteps. Defaults to 100.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	logger := NewDefaultLogger()
	return &SchedulerConfig{
		Name:            "scheduler",
		Executor:        NewGoExecutor(),
		Logger:          logger,
		Metrics:         &NilMetrics{},
		FailureReporter: NewLogFailureReporter(logger, defaultFailureLogRate),
		HistoryCapacity: defaultStepHistoryCapacity,
	}
}
