package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTaskAndReply_BasicExecution verifies task and reply placement
// Main test items:
// 1. Task runs off the owner
// 2. Reply runs on the owner with the task's result
// 3. Run returns once the reply is done
func TestTaskAndReply_BasicExecution(t *testing.T) {
	s, _ := newTestScheduler(t)
	owner := goroutineID()

	var taskGoroutine, replyGoroutine uint64
	var got int
	err := ScheduleTaskAndReply(context.Background(), s,
		func(ctx context.Context) (int, error) {
			taskGoroutine = goroutineID()
			return 42, nil
		},
		func(ctx context.Context, result int, err error) (Directive, error) {
			replyGoroutine = goroutineID()
			got = result
			return DirectiveDone, err
		},
	)
	require.NoError(t, err)
	require.NoError(t, runWithTimeout(t, s, context.Background(), 2*time.Second))

	assert.Equal(t, 42, got)
	assert.NotEqual(t, owner, taskGoroutine)
	assert.Equal(t, owner, replyGoroutine)
}

func TestTaskAndReply_ErrorReachesReply(t *testing.T) {
	s, reporter := newTestScheduler(t)
	boom := errors.New("boom")

	var replyErr error
	tasklet := TaskAndReply(
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context, result string, err error) (Directive, error) {
			replyErr = err
			return DirectiveDone, nil
		},
	)
	require.NoError(t, s.Schedule(context.Background(), tasklet, DirectiveSync))
	require.NoError(t, runWithTimeout(t, s, context.Background(), 2*time.Second))

	assert.ErrorIs(t, replyErr, boom)
	assert.Empty(t, reporter.Failures())
}

// TestTaskAndReply_PanicSkipsReply verifies a panicking task fails the tasklet
func TestTaskAndReply_PanicSkipsReply(t *testing.T) {
	s, reporter := newTestScheduler(t)

	replied := false
	tasklet := TaskAndReply(
		func(ctx context.Context) (int, error) { panic("task blew up") },
		func(ctx context.Context, result int, err error) (Directive, error) {
			replied = true
			return DirectiveDone, nil
		},
	)
	require.NoError(t, s.Schedule(context.Background(), tasklet, DirectiveSync))
	require.NoError(t, runWithTimeout(t, s, context.Background(), 2*time.Second))

	assert.False(t, replied)
	failures := reporter.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, StepModeAsync, failures[0].Mode)
	assert.ErrorIs(t, failures[0].Err, ErrStepPanicked)
}

func TestTaskAndReply_NilReply(t *testing.T) {
	s, _ := newTestScheduler(t)
	ran := make(chan struct{}, 1)

	tasklet := TaskAndReply[struct{}](func(ctx context.Context) (struct{}, error) {
		ran <- struct{}{}
		return struct{}{}, nil
	}, nil)
	require.NoError(t, s.Schedule(context.Background(), tasklet, DirectiveSync))
	require.NoError(t, runWithTimeout(t, s, context.Background(), 2*time.Second))

	assert.Len(t, ran, 1)
}
