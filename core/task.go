package core

import (
	"context"
	"fmt"
	"reflect"
	"runtime"

	"github.com/google/uuid"
)

// Task is the unit of work handed to an Executor (Closure).
type Task func(ctx context.Context)

// =============================================================================
// Tasklet: a resumable unit of work
// =============================================================================

// Tasklet runs one bounded slice of work per Step and tells the scheduler what
// to do next. A non-nil error (or a panic) is a step failure: the scheduler
// reports it and treats the tasklet as DONE.
type Tasklet interface {
	Step(ctx context.Context) (Directive, error)
}

// TaskletFunc adapts a function to the Tasklet interface.
type TaskletFunc func(ctx context.Context) (Directive, error)

// Step calls f(ctx).
func (f TaskletFunc) Step(ctx context.Context) (Directive, error) {
	return f(ctx)
}

// =============================================================================
// Handle: scheduler-side identity of a tasklet
// =============================================================================

// TaskletID identifies a Handle in logs, metrics and step history.
type TaskletID = uuid.UUID

// Handle is the identity the scheduler tracks a tasklet by. Scheduling the
// same *Handle twice always refers to the same entry, whatever the wrapped
// Tasklet is. A *Handle is itself a Tasklet.
type Handle struct {
	id      TaskletID
	name    string
	tasklet Tasklet
}

// NewHandle wraps t in a new Handle named after t's type or function.
func NewHandle(t Tasklet) *Handle {
	return NewNamedHandle("", t)
}

// NewNamedHandle wraps t in a new Handle with an explicit name.
func NewNamedHandle(name string, t Tasklet) *Handle {
	return &Handle{
		id:      uuid.New(),
		name:    resolveTaskletName(t, name),
		tasklet: t,
	}
}

func (h *Handle) ID() TaskletID    { return h.id }
func (h *Handle) Name() string     { return h.name }
func (h *Handle) Tasklet() Tasklet { return h.tasklet }

// Step runs one step of the wrapped tasklet.
func (h *Handle) Step(ctx context.Context) (Directive, error) {
	if h.tasklet == nil {
		return DirectiveDone, ErrNilTasklet
	}
	return h.tasklet.Step(ctx)
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s[%s]", h.name, h.id.String()[:8])
}

// identityKey returns the key used to find the live handle of t, or false if
// t has no identity beyond a single Schedule call. Only pointers qualify, so
// two distinct tasklets never share an entry because their values are equal.
func identityKey(t Tasklet) (Tasklet, bool) {
	if t == nil {
		return nil, false
	}
	if reflect.TypeOf(t).Kind() != reflect.Pointer {
		return nil, false
	}
	return t, true
}

func resolveTaskletName(t Tasklet, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if t == nil {
		return "anonymous"
	}
	if h, ok := t.(*Handle); ok {
		return h.name
	}

	v := reflect.ValueOf(t)
	if v.Kind() != reflect.Func {
		return reflect.TypeOf(t).String()
	}

	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}

// =============================================================================
// Prebuilt tasklets
// =============================================================================

type doneTasklet struct{}

func (doneTasklet) Step(context.Context) (Directive, error) { return DirectiveDone, nil }

type waitTasklet struct{}

func (waitTasklet) Step(context.Context) (Directive, error) { return DirectiveWait, nil }

var (
	// DoneTasklet completes on its first step.
	DoneTasklet Tasklet = doneTasklet{}

	// WaitTasklet parks on every step until something else completes it,
	// typically Rescheduler.Resume(ctx, DirectiveDone).
	WaitTasklet Tasklet = waitTasklet{}
)
