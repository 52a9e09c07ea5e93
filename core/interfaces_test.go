package core

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFailure(err error) StepFailure {
	return StepFailure{
		SchedulerName: "main",
		TaskletID:     uuid.New(),
		TaskletName:   "worker",
		Mode:          StepModeAsync,
		Err:           err,
	}
}

// TestLogFailureReporter_LogsFailures verifies failures are logged with context
// Given: A reporter writing JSON at info level
// When: An error failure and a panic failure are reported
// Then: The error is logged at warn and the panic at error with its stack
func TestLogFailureReporter_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogFailureReporter(NewJSONLogger(&buf, "info"), 0)

	r.ReportFailure(context.Background(), testFailure(errors.New("boom")))

	panicked := testFailure(ErrStepPanicked)
	panicked.Panic = "kaboom"
	panicked.Stack = []byte("goroutine 1 [running]")
	r.ReportFailure(context.Background(), panicked)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "boom", lines[0]["err"])
	assert.Equal(t, "worker", lines[0]["tasklet"])
	assert.Equal(t, "async", lines[0]["mode"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "goroutine 1 [running]", lines[1]["stack"])
}

// TestLogFailureReporter_RateLimited verifies bursts are suppressed and counted
func TestLogFailureReporter_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogFailureReporter(NewJSONLogger(&buf, "info"), 2)

	for range 10 {
		r.ReportFailure(context.Background(), testFailure(errors.New("boom")))
	}

	lines := decodeLines(t, &buf)
	assert.Len(t, lines, 2)
	assert.Equal(t, int64(8), r.Suppressed())
}

func TestFailureReporterFunc(t *testing.T) {
	var got StepFailure
	var r FailureReporter = FailureReporterFunc(func(ctx context.Context, f StepFailure) { got = f })

	r.ReportFailure(context.Background(), testFailure(ErrNilTasklet))

	assert.ErrorIs(t, got.Err, ErrNilTasklet)
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()

	assert.Equal(t, "scheduler", cfg.Name)
	assert.NotNil(t, cfg.Executor)
	assert.NotNil(t, cfg.Logger)
	assert.IsType(t, &NilMetrics{}, cfg.Metrics)
	assert.IsType(t, &LogFailureReporter{}, cfg.FailureReporter)
	assert.Equal(t, defaultStepHistoryCapacity, cfg.HistoryCapacity)
}

func TestNewSchedulerWithConfig_FillsDefaults(t *testing.T) {
	s := NewSchedulerWithConfig(&SchedulerConfig{})

	assert.Equal(t, "scheduler", s.Name())
	assert.NotNil(t, s.executor)
	assert.NotNil(t, s.Logger())
	assert.NotNil(t, s.metrics)
	assert.NotNil(t, s.reporter)
}
