package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildducktheories/tasklet/core"
)

const everySecond = "* * * * * *"

func newScheduler(reporter core.FailureReporter) *core.Scheduler {
	return core.NewSchedulerWithConfig(&core.SchedulerConfig{
		Name:            "cron-test",
		Logger:          core.NewNoOpLogger(),
		FailureReporter: reporter,
	})
}

// TestCron_ResumesOnEachFire verifies fire-driven resumption
// Given: A tasklet attached to a per-second schedule that waits twice
// When: The scheduler runs with the cron started
// Then: The tasklet is stepped once per fire and Run returns after it finishes
func TestCron_ResumesOnEachFire(t *testing.T) {
	c := NewCron()
	c.Start()
	defer c.Stop()

	s := newScheduler(nil)
	var steps atomic.Int32
	task := core.TaskletFunc(func(ctx context.Context) (core.Directive, error) {
		if steps.Add(1) < 2 {
			return core.DirectiveWait, nil
		}
		return core.DirectiveDone, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Attach(ctx, s, everySecond, task))
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 1, s.Stats().Pending)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(2), steps.Load())
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, 0, s.Stats().Pending)
}

// TestCron_StopCompletesParkedEntries verifies Stop lets Run return
func TestCron_StopCompletesParkedEntries(t *testing.T) {
	c := NewCron()
	s := newScheduler(nil)

	var stepped atomic.Bool
	task := core.TaskletFunc(func(ctx context.Context) (core.Directive, error) {
		stepped.Store(true)
		return core.DirectiveWait, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Attach(ctx, s, "@hourly", task))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Stop()
	}()

	require.NoError(t, s.Run(ctx))
	assert.False(t, stepped.Load(), "stopped entry must complete without stepping the tasklet")
	assert.Equal(t, 0, c.Count())
}

func TestCron_FailedStepRemovesEntry(t *testing.T) {
	c := NewCron()
	c.Start()
	defer c.Stop()

	var reported atomic.Int32
	s := newScheduler(core.FailureReporterFunc(func(context.Context, core.StepFailure) {
		reported.Add(1)
	}))
	boom := errors.New("boom")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Attach(ctx, s, everySecond, core.TaskletFunc(func(context.Context) (core.Directive, error) {
		return core.DirectiveWait, boom
	})))

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), reported.Load())
	assert.Equal(t, 0, c.Count())
}

func TestCron_AttachRejectsBadInput(t *testing.T) {
	c := NewCron()
	s := newScheduler(nil)
	ctx := context.Background()

	err := c.Attach(ctx, s, "not a schedule", core.DoneTasklet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron spec")
	assert.Equal(t, 0, s.Stats().Pending)

	assert.ErrorIs(t, c.Attach(ctx, s, "@hourly", nil), core.ErrNilTasklet)

	c.Stop()
	assert.ErrorIs(t, c.Attach(ctx, s, "@hourly", core.WaitTasklet), ErrCronStopped)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestCron_StopIsIdempotent(t *testing.T) {
	c := NewCron(WithLocation(time.UTC), WithLogger(core.NewNoOpLogger()))
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
	c.Start()
	assert.Equal(t, 0, c.Count())
}
