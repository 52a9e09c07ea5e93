package core

import "context"

// Rescheduler resumes one parked tasklet. It is handed out by
// Scheduler.Suspend and should be used exactly once; it does not keep the
// tasklet alive, the scheduler's registry does.
type Rescheduler struct {
	scheduler *Scheduler
	handle    *Handle
}

// Scheduler returns the scheduler the tasklet is parked on.
func (r Rescheduler) Scheduler() *Scheduler { return r.scheduler }

// Handle returns the parked tasklet's handle.
func (r Rescheduler) Handle() *Handle { return r.handle }

// Resume schedules the parked tasklet with d. It is Schedule(ctx, handle, d).
func (r Rescheduler) Resume(ctx context.Context, d Directive) error {
	if r.scheduler == nil {
		return ErrNilTasklet
	}
	return r.scheduler.Schedule(ctx, r.handle, d)
}

// ResumeLater returns a func that resumes the tasklet with d when called, for
// use as a callback. It captures ctx without cancellation or ownership, so it
// is safe to call from any goroutine. A failed resume is logged.
func (r Rescheduler) ResumeLater(ctx context.Context, d Directive) func() {
	dctx := Detach(context.WithoutCancel(ctx))
	return func() {
		if err := r.Resume(dctx, d); err != nil && r.scheduler != nil {
			r.scheduler.logger.Warn("deferred resume failed",
				F("scheduler", r.scheduler.name),
				F("tasklet", r.handle.String()),
				F("directive", d),
				F("err", err),
			)
		}
	}
}
