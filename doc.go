// Package tasklet provides a cooperative, continuation-style scheduler for Go.
//
// Work is written as tasklets: resumable units that run one bounded step at a
// time and return a Directive telling the scheduler where the next step goes.
// Steps either run on the scheduler's single synchronous owner, where they may
// share state with other synchronous tasklets without locks, or on an async
// executor, where they may block but must not touch that shared state.
//
// # Quick Start
//
// Create a scheduler, schedule tasklets and drive it with Run:
//
//	s := tasklet.NewScheduler()
//	s.Schedule(ctx, myTasklet, tasklet.DirectiveSync)
//	if err := s.Run(ctx); err != nil {
//		// ctx was cancelled
//	}
//
// # Key Concepts
//
// Directive: SYNC queues the tasklet for the synchronous owner, ASYNC runs its
// next step on the executor, WAIT parks it until it is resumed and DONE drops it.
//
// Synchronous owner: the context passed to Run (or returned by SetAuto) carries
// an owner token. Only code running with that context steps SYNC tasklets, so
// at most one synchronous step runs at a time. Never hand an owner context to
// another goroutine; use Reset (core.Detach) first.
//
// Rescheduler: returned by Suspend, it resumes a parked tasklet from any
// goroutine, typically from a callback.
//
// Ambient scheduler: every step sees its scheduler through the context
// (SchedulerFromContext). Current returns it, or creates an auto-start default.
//
// # Example
//
//	step := 0
//	t := tasklet.TaskletFunc(func(ctx context.Context) (tasklet.Directive, error) {
//		step++
//		switch step {
//		case 1:
//			return tasklet.DirectiveAsync, nil // next step may block
//		case 2:
//			fetch() // runs on the executor
//			return tasklet.DirectiveSync, nil
//		default:
//			apply() // back on the owner
//			return tasklet.DirectiveDone, nil
//		}
//	})
//
//	s := tasklet.NewScheduler()
//	s.Schedule(ctx, t, tasklet.DirectiveSync)
//	s.Run(ctx)
//
// Async steps run on a goroutine each by default; pass WithExecutor to use a
// GoroutineThreadPool instead.
package tasklet
