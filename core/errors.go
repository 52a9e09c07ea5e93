package core

import "errors"

var (
	// ErrSchedulerNotRunning is returned when ASYNC is requested while no Run
	// loop is active. Schedule the work SYNC on a running scheduler and issue
	// the ASYNC directive from there.
	ErrSchedulerNotRunning = errors.New("tasklet: scheduler not running")

	ErrInvalidDirective = errors.New("tasklet: invalid directive")
	ErrNilTasklet       = errors.New("tasklet: nil tasklet")

	// ErrExecutorRejected wraps the executor's error when an async step could
	// not be submitted.
	ErrExecutorRejected = errors.New("tasklet: async executor rejected step")

	// ErrStepPanicked wraps a value recovered from a panicking step.
	ErrStepPanicked = errors.New("tasklet: step panicked")
)
