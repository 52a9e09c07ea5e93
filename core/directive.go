package core

import "fmt"

// Directive tells the scheduler where a tasklet goes after a step.
type Directive int

const (
	// DirectiveSync queues the tasklet for the synchronous owner.
	// A step that runs on the synchronous owner must not block.
	DirectiveSync Directive = iota

	// DirectiveAsync hands the next step to the async executor. The tasklet is
	// parked (as if WAIT) until that step returns and its result is scheduled.
	DirectiveAsync

	// DirectiveWait parks the tasklet until something schedules it again,
	// usually through a Rescheduler. A tasklet that is never resumed leaks.
	DirectiveWait

	// DirectiveDone drops every scheduler reference to the tasklet.
	DirectiveDone
)

func (d Directive) String() string {
	switch d {
	case DirectiveSync:
		return "SYNC"
	case DirectiveAsync:
		return "ASYNC"
	case DirectiveWait:
		return "WAIT"
	case DirectiveDone:
		return "DONE"
	default:
		return fmt.Sprintf("Directive(%d)", int(d))
	}
}

// Valid reports whether d is one of the four known directives.
func (d Directive) Valid() bool {
	return d >= DirectiveSync && d <= DirectiveDone
}
