// Package trigger resumes parked tasklets from external time sources.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wildducktheories/tasklet/core"
)

// Cron resumes attached tasklets on cron schedules.
//
// An attached tasklet is parked between fires. Each fire resumes it with
// DirectiveSync; when it returns DirectiveWait it parks until the next fire,
// and when it finishes (DONE, an error or a panic) its entry is removed. A
// fire that arrives while the tasklet is still running is skipped.
type Cron struct {
	parser cron.Parser
	c      *cron.Cron
	logger core.Logger

	mu      sync.Mutex
	entries map[*entry]struct{}
	started bool
	stopped bool
}

// Option configures a Cron.
type Option func(*cronOptions)

type cronOptions struct {
	loc    *time.Location
	logger core.Logger
}

// WithLocation sets the time zone schedules are evaluated in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *cronOptions) { o.loc = loc }
}

// WithLogger sets the logger used for skipped fires and resume failures.
func WithLogger(l core.Logger) Option {
	return func(o *cronOptions) { o.logger = l }
}

// NewCron creates a Cron. Schedules accept an optional leading seconds field
// and descriptors such as @every 1m or @hourly.
func NewCron(opts ...Option) *Cron {
	o := cronOptions{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	if o.logger == nil {
		o.logger = core.NewNoOpLogger()
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Cron{
		parser:  parser,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(o.loc)),
		logger:  o.logger,
		entries: make(map[*entry]struct{}),
	}
}

// Start begins firing schedules. Repeated calls are no-ops.
func (c *Cron) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.c.Start()
}

// Attach parks t on s and resumes it every time spec fires. The parked entry
// keeps s.Run from returning until t finishes or Stop is called.
func (c *Cron) Attach(ctx context.Context, s *core.Scheduler, spec string, t core.Tasklet) error {
	if t == nil {
		return core.ErrNilTasklet
	}
	spec = strings.TrimSpace(spec)
	sched, err := c.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCronStopped
	}
	c.mu.Unlock()

	e := &entry{
		cron:  c,
		spec:  spec,
		inner: t,
		rctx:  core.Detach(context.WithoutCancel(ctx)),
	}
	e.parked.Store(true)

	r, err := s.Suspend(ctx, e)
	if err != nil {
		return err
	}
	e.r = r

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		e.stop()
		return ErrCronStopped
	}
	c.entries[e] = struct{}{}
	e.id = c.c.Schedule(sched, cron.FuncJob(e.fire))
	c.mu.Unlock()

	c.logger.Debug("cron entry attached",
		core.F("scheduler", s.Name()),
		core.F("tasklet", r.Handle().String()),
		core.F("spec", spec),
	)
	return nil
}

// Stop stops firing and completes every attached tasklet so the schedulers
// they are parked on can drain. It waits for running fires to return.
func (c *Cron) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	entries := make([]*entry, 0, len(c.entries))
	for e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	<-c.c.Stop().Done()

	for _, e := range entries {
		e.stop()
	}
}

// Count returns the number of attached tasklets that have not finished.
func (c *Cron) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cron) remove(e *entry) {
	c.mu.Lock()
	_, ok := c.entries[e]
	delete(c.entries, e)
	c.mu.Unlock()
	if ok {
		c.c.Remove(e.id)
	}
}

// ErrCronStopped is returned by Attach after Stop.
var ErrCronStopped = errors.New("trigger: cron stopped")

// entry is the tasklet the scheduler actually tracks for an attached tasklet.
type entry struct {
	cron  *Cron
	spec  string
	inner core.Tasklet
	rctx  context.Context
	r     core.Rescheduler
	id    cron.EntryID

	parked  atomic.Bool
	stopped atomic.Bool
}

func (e *entry) Step(ctx context.Context) (core.Directive, error) {
	finished := true
	defer func() {
		if finished {
			e.cron.remove(e)
		}
	}()

	if e.stopped.Load() {
		return core.DirectiveDone, nil
	}

	d, err := e.inner.Step(ctx)
	if err != nil || d == core.DirectiveDone {
		return d, err
	}
	if d != core.DirectiveWait {
		finished = false
		return d, nil
	}

	e.parked.Store(true)
	if e.stopped.Load() && e.parked.CompareAndSwap(true, false) {
		return core.DirectiveDone, nil
	}
	finished = false
	return core.DirectiveWait, nil
}

func (e *entry) String() string {
	return "cron(" + e.spec + ")"
}

func (e *entry) fire() {
	if e.stopped.Load() {
		return
	}
	if !e.parked.CompareAndSwap(true, false) {
		e.cron.logger.Debug("cron fire skipped; tasklet still running",
			core.F("tasklet", e.r.Handle().String()),
			core.F("spec", e.spec),
		)
		return
	}
	e.resume()
}

func (e *entry) stop() {
	e.stopped.Store(true)
	if e.parked.CompareAndSwap(true, false) {
		e.resume()
	}
}

func (e *entry) resume() {
	if err := e.r.Resume(e.rctx, core.DirectiveSync); err != nil {
		e.cron.logger.Warn("cron resume failed",
			core.F("tasklet", e.r.Handle().String()),
			core.F("spec", e.spec),
			core.F("err", err),
		)
	}
}
