package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wildducktheories/tasklet"
)

type scenario struct {
	name  string
	short string
	run   func(ctx context.Context, a *app) (string, error)
}

var scenarios = []scenario{
	{name: "a", short: "ASYNC -> SYNC -> DONE round trip through the pool", run: scenarioA},
	{name: "b", short: "a SYNC step schedules a second tasklet ASYNC", run: scenarioB},
	{name: "c", short: "ASYNC without a running loop is rejected", run: scenarioC},
}

func newScenarioCmd(a *app) *cobra.Command {
	var timeout time.Duration

	names := make([]string, 0, len(scenarios)+1)
	var long strings.Builder
	long.WriteString("Run the end-to-end scheduler scenarios and report each result.\n\nScenarios:\n")
	for _, sc := range scenarios {
		names = append(names, sc.name)
		fmt.Fprintf(&long, "  %s  %s\n", sc.name, sc.short)
	}
	names = append(names, "all")

	cmd := &cobra.Command{
		Use:       "scenario [a|b|c|all]",
		Short:     "Run the end-to-end scenarios",
		Long:      long.String(),
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = strings.ToLower(args[0])
			}

			var failed []string
			for _, sc := range scenarios {
				if which != "all" && which != sc.name {
					continue
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				detail, err := sc.run(ctx, a)
				cancel()
				if err != nil {
					failed = append(failed, sc.name)
					printf(cmd.OutOrStdout(), "scenario %s: FAIL: %v\n", strings.ToUpper(sc.name), err)
					continue
				}
				printf(cmd.OutOrStdout(), "scenario %s: ok (%s)\n", strings.ToUpper(sc.name), detail)
			}
			if len(failed) > 0 {
				return fmt.Errorf("scenarios failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-scenario timeout")
	return cmd
}

func scenarioA(ctx context.Context, a *app) (string, error) {
	pool := a.startPool(ctx, "scenario-a")
	defer pool.Stop()
	s := a.newScheduler("scenario-a", pool, nil)

	var trace []string
	state := 0
	t := tasklet.TaskletFunc(func(ctx context.Context) (tasklet.Directive, error) {
		state++
		owner := tasklet.SchedulerFromContext(ctx).Owns(ctx)
		trace = append(trace, fmt.Sprintf("step%d/owner=%t", state, owner))
		switch state {
		case 1:
			return tasklet.DirectiveAsync, nil
		case 2:
			if owner {
				return tasklet.DirectiveDone, errors.New("async step ran on the owner")
			}
			return tasklet.DirectiveSync, nil
		default:
			return tasklet.DirectiveDone, nil
		}
	})

	if err := s.Schedule(ctx, t, tasklet.DirectiveSync); err != nil {
		return "", err
	}
	if err := s.Run(ctx); err != nil {
		return "", err
	}

	stats := s.Stats()
	switch {
	case stats.Failures > 0:
		return "", fmt.Errorf("%d step failures", stats.Failures)
	case state != 3:
		return "", fmt.Errorf("tasklet took %d steps, want 3", state)
	case stats.Pending != 0:
		return "", fmt.Errorf("%d tasklets still pending", stats.Pending)
	}
	return strings.Join(trace, " "), nil
}

func scenarioB(ctx context.Context, a *app) (string, error) {
	pool := a.startPool(ctx, "scenario-b")
	defer pool.Stop()
	s := a.newScheduler("scenario-b", pool, nil)

	type observation struct {
		sameScheduler bool
		offOwner      bool
	}
	seen := make(chan observation, 1)

	second := tasklet.TaskletFunc(func(ctx context.Context) (tasklet.Directive, error) {
		ambient := tasklet.SchedulerFromContext(ctx)
		seen <- observation{sameScheduler: ambient == s, offOwner: !s.Owns(ctx)}
		return tasklet.DirectiveDone, nil
	})
	first := tasklet.TaskletFunc(func(ctx context.Context) (tasklet.Directive, error) {
		if err := tasklet.SchedulerFromContext(ctx).Schedule(ctx, second, tasklet.DirectiveAsync); err != nil {
			return tasklet.DirectiveDone, err
		}
		return tasklet.DirectiveDone, nil
	})

	if err := s.Schedule(ctx, first, tasklet.DirectiveSync); err != nil {
		return "", err
	}
	if err := s.Run(ctx); err != nil {
		return "", err
	}

	select {
	case obs := <-seen:
		if !obs.offOwner {
			return "", errors.New("second tasklet ran on the synchronous owner")
		}
		if !obs.sameScheduler {
			return "", errors.New("ambient scheduler in the async step is not the running scheduler")
		}
		return "second tasklet ran off the owner under the same scheduler", nil
	default:
		return "", errors.New("second tasklet never ran")
	}
}

func scenarioC(ctx context.Context, a *app) (string, error) {
	s := a.newScheduler("scenario-c", nil, nil)
	err := s.Schedule(ctx, tasklet.DoneTasklet, tasklet.DirectiveAsync)
	if !errors.Is(err, tasklet.ErrSchedulerNotRunning) {
		return "", fmt.Errorf("got %v, want %v", err, tasklet.ErrSchedulerNotRunning)
	}
	if s.Stats().Pending != 0 {
		return "", errors.New("rejected tasklet was registered")
	}
	return "rejected with " + err.Error(), nil
}
