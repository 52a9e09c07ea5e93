package cli

import (
	"context"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wildducktheories/tasklet"
	"github.com/wildducktheories/tasklet/config"
	"github.com/wildducktheories/tasklet/core"
	obs "github.com/wildducktheories/tasklet/observability/prometheus"
)

// stressTasklet takes a fixed number of steps. Every asyncEvery-th step hops
// to the pool, and every delayEvery-th step parks on the delay manager.
type stressTasklet struct {
	remaining  int
	step       int
	asyncEvery int
	delayEvery int
	asyncDelay time.Duration
	onAsync    bool
	delays     *core.DelayManager
}

func (t *stressTasklet) Step(ctx context.Context) (tasklet.Directive, error) {
	if t.onAsync {
		t.onAsync = false
		if t.asyncDelay > 0 {
			time.Sleep(t.asyncDelay)
		}
		return tasklet.DirectiveSync, nil
	}
	if t.remaining == 0 {
		return tasklet.DirectiveDone, nil
	}
	t.remaining--
	t.step++

	if t.asyncEvery > 0 && t.step%t.asyncEvery == 0 {
		t.onAsync = true
		return tasklet.DirectiveAsync, nil
	}
	if t.delayEvery > 0 && t.step%t.delayEvery == 0 {
		s := tasklet.SchedulerFromContext(ctx)
		if err := t.delays.SuspendFor(ctx, s, core.HandleFromContext(ctx), t.asyncDelay); err != nil {
			return tasklet.DirectiveDone, err
		}
		return tasklet.DirectiveWait, nil
	}
	return tasklet.DirectiveSync, nil
}

type stressResult struct {
	Elapsed time.Duration
	Stats   core.SchedulerStats
}

func newStressCmd(a *app) *cobra.Command {
	var (
		tasklets   int
		steps      int
		asyncEvery int
		delayEvery int
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run many multi-step tasklets through one scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Stress
			if cmd.Flags().Changed("tasklets") {
				sc.Tasklets = tasklets
			}
			if cmd.Flags().Changed("steps") {
				sc.Steps = steps
			}
			if cmd.Flags().Changed("async-every") {
				sc.AsyncEvery = asyncEvery
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := runStress(ctx, a, sc, delayEvery, prom.NewRegistry())
			if err != nil {
				return err
			}

			st := res.Stats
			total := st.SyncSteps + st.AsyncSteps
			printf(cmd.OutOrStdout(), "tasklets=%d steps=%d sync=%d async=%d failures=%d rejected=%d elapsed=%s rate=%.0f steps/s\n",
				sc.Tasklets, total, st.SyncSteps, st.AsyncSteps, st.Failures, st.Rejected,
				res.Elapsed.Round(time.Millisecond), float64(total)/max(res.Elapsed.Seconds(), 1e-9))
			if st.Failures > 0 {
				return fmt.Errorf("%d step failures", st.Failures)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tasklets, "tasklets", 0, "Number of tasklets (default from config)")
	cmd.Flags().IntVar(&steps, "steps", 0, "Steps per tasklet (default from config)")
	cmd.Flags().IntVar(&asyncEvery, "async-every", 0, "Hop to the pool every N steps, 0 never (default from config)")
	cmd.Flags().IntVar(&delayEvery, "delay-every", 0, "Park on the delay manager every N steps, 0 never")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")
	return cmd
}

func runStress(ctx context.Context, a *app, sc config.StressConfig, delayEvery int, reg prom.Registerer) (stressResult, error) {
	exporter, err := obs.NewMetricsExporter(a.cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return stressResult{}, err
	}

	pool := a.startPool(ctx, "stress")
	defer pool.Stop()
	delays := core.NewDelayManager()
	defer delays.Stop()

	s := a.newScheduler(a.cfg.Scheduler.Name, pool, exporter)

	start := time.Now()
	for i := range sc.Tasklets {
		t := &stressTasklet{
			remaining:  sc.Steps,
			asyncEvery: sc.AsyncEvery,
			delayEvery: delayEvery,
			asyncDelay: sc.AsyncDelay,
			delays:     delays,
		}
		h := tasklet.NewNamedHandle(fmt.Sprintf("stress-%d", i), t)
		if err := s.Schedule(ctx, h, tasklet.DirectiveSync); err != nil {
			return stressResult{}, err
		}
	}
	a.logger.Debug("stress tasklets scheduled", core.F("count", sc.Tasklets))

	if err := s.Run(ctx); err != nil {
		return stressResult{}, err
	}
	return stressResult{Elapsed: time.Since(start), Stats: s.Stats()}, nil
}
