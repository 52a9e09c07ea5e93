package tasklet

import "github.com/wildducktheories/tasklet/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the tasklet package for most use cases.

// Directive tells the scheduler what to do with a tasklet after a step
type Directive = core.Directive

// Tasklet is a resumable unit of work
type Tasklet = core.Tasklet

// TaskletFunc adapts a function to Tasklet
type TaskletFunc = core.TaskletFunc

// Handle is the scheduler-side identity of a tasklet
type Handle = core.Handle

// Scheduler multiplexes tasklets over one synchronous owner and an async executor
type Scheduler = core.Scheduler

// Rescheduler resumes a parked tasklet
type Rescheduler = core.Rescheduler

// Executor runs async steps
type Executor = core.Executor

// Task is the unit of work submitted to an Executor
type Task = core.Task

// Logger and Field for structured logging
type Logger = core.Logger
type Field = core.Field

// TaskWithResult and ReplyWithResult for the generic TaskAndReply pattern
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// Directive constants
const (
	DirectiveSync  = core.DirectiveSync
	DirectiveAsync = core.DirectiveAsync
	DirectiveWait  = core.DirectiveWait
	DirectiveDone  = core.DirectiveDone
)

// Prebuilt tasklets
var (
	DoneTasklet = core.DoneTasklet
	WaitTasklet = core.WaitTasklet
)

// Sentinel errors
var (
	ErrSchedulerNotRunning = core.ErrSchedulerNotRunning
	ErrInvalidDirective    = core.ErrInvalidDirective
	ErrNilTasklet          = core.ErrNilTasklet
	ErrExecutorRejected    = core.ErrExecutorRejected
	ErrStepPanicked        = core.ErrStepPanicked
)

var (
	NewHandle      = core.NewHandle
	NewNamedHandle = core.NewNamedHandle
	F              = core.F
)

// SchedulerFromContext retrieves the ambient scheduler from context
var SchedulerFromContext = core.SchedulerFromContext

// TaskAndReply runs blocking work off the owner and handles its result on the owner.
func TaskAndReply[T any](task TaskWithResult[T], reply ReplyWithResult[T]) Tasklet {
	return core.TaskAndReply(task, reply)
}
