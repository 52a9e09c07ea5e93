package core

import "time"

// StepMode tells where a step ran.
type StepMode int

const (
	// StepModeSync steps run on the synchronous owner.
	StepModeSync StepMode = iota
	// StepModeAsync steps run on the executor.
	StepModeAsync
)

func (m StepMode) String() string {
	if m == StepModeAsync {
		return "async"
	}
	return "sync"
}

// StepRecord captures a completed step.
type StepRecord struct {
	TaskletID   TaskletID
	TaskletName string
	Scheduler   string
	Mode        StepMode
	Directive   Directive
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Failed      bool
	Panicked    bool
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name        string
	Ready       int
	Pending     int
	// ReadyTasklets names the ready tasklets in the order they will step.
	ReadyTasklets []string
	Owned       bool
	ActiveLoops int
	Auto        bool
	SyncSteps   int64
	AsyncSteps  int64
	Failures    int64
	Rejected    int64
	LastTasklet string
	LastStepAt  time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
