package core

import "context"

// =============================================================================
// TaskAndReply: blocking work off the owner, result handled on the owner
// =============================================================================

// TaskWithResult is blocking work that produces a value. It runs on the
// executor and must not touch state shared by synchronous tasklets.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the task's result on the synchronous owner and
// decides what happens to the tasklet next, usually DirectiveDone.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error) (Directive, error)

type replyPhase int

const (
	phaseTask replyPhase = iota
	phaseReply
	phaseDone
)

type taskAndReply[T any] struct {
	task  TaskWithResult[T]
	reply ReplyWithResult[T]

	phase  replyPhase
	result T
	err    error
}

// TaskAndReply returns a tasklet that runs task on the executor and then
// reply on the synchronous owner with task's result. A task that panics fails
// the tasklet and reply never runs. The tasklet must be scheduled on a
// scheduler with an active Run loop.
func TaskAndReply[T any](task TaskWithResult[T], reply ReplyWithResult[T]) Tasklet {
	return &taskAndReply[T]{task: task, reply: reply}
}

func (t *taskAndReply[T]) Step(ctx context.Context) (Directive, error) {
	switch t.phase {
	case phaseTask:
		// Still on the owner: hop to the executor first.
		if s := SchedulerFromContext(ctx); s != nil && s.Owns(ctx) {
			return DirectiveAsync, nil
		}
		t.result, t.err = t.task(ctx)
		t.phase = phaseReply
		return DirectiveSync, nil
	case phaseReply:
		t.phase = phaseDone
		if t.reply == nil {
			return DirectiveDone, nil
		}
		return t.reply(ctx, t.result, t.err)
	default:
		return DirectiveDone, nil
	}
}

// ScheduleTaskAndReply schedules TaskAndReply(task, reply) on s.
func ScheduleTaskAndReply[T any](ctx context.Context, s *Scheduler, task TaskWithResult[T], reply ReplyWithResult[T]) error {
	return s.Schedule(ctx, TaskAndReply(task, reply), DirectiveSync)
}
