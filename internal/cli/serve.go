package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wildducktheories/tasklet"
	"github.com/wildducktheories/tasklet/config"
	"github.com/wildducktheories/tasklet/core"
	obs "github.com/wildducktheories/tasklet/observability/prometheus"
	"github.com/wildducktheories/tasklet/trigger"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		listen   string
		spec     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cron-driven scheduler and serve its Prometheus metrics",
		Long: `serve runs a scheduler whose heartbeat tasklet is resumed by a cron
schedule, hops to the worker pool on every beat, and exposes the scheduler
and pool metrics on /metrics. With --config, log level changes in the file
are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			return a.serve(ctx, ln, spec)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Metrics listen address (default from config)")
	cmd.Flags().StringVar(&spec, "spec", "@every 1s", "Cron schedule of the heartbeat tasklet")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long; 0 runs until interrupted")
	return cmd
}

// heartbeat counts beats. Each beat does its work on the pool and parks
// until the next fire.
type heartbeat struct {
	beats   atomic.Int64
	logger  core.Logger
	onAsync bool
}

func (h *heartbeat) Step(ctx context.Context) (tasklet.Directive, error) {
	if !h.onAsync {
		h.onAsync = true
		return tasklet.DirectiveAsync, nil
	}
	h.onAsync = false
	n := h.beats.Add(1)
	h.logger.Debug("heartbeat", core.F("beat", int(n)))
	return tasklet.DirectiveWait, nil
}

func (a *app) serve(ctx context.Context, ln net.Listener, spec string) error {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := obs.NewMetricsExporter(a.cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return err
	}
	poller, err := obs.NewSnapshotPoller(reg, a.cfg.Metrics.PollInterval)
	if err != nil {
		return err
	}

	// The pool outlives ctx: steps still in flight at shutdown need workers.
	pool := a.startPool(context.WithoutCancel(ctx), "serve")
	defer pool.Stop()
	s := a.newScheduler(a.cfg.Scheduler.Name, pool, exporter)

	poller.AddScheduler(s.Name(), s)
	poller.AddPool(pool.ID(), pool)
	poller.Start(ctx)
	defer poller.Stop()

	if a.flagConfig != "" {
		go a.watchConfig(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", core.F("err", err))
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}()
	a.logger.Info("serving metrics", core.F("addr", ln.Addr().String()), core.F("spec", spec))

	c := trigger.NewCron(trigger.WithLogger(a.logger))
	hb := &heartbeat{logger: a.logger}
	if err := c.Attach(ctx, s, spec, hb); err != nil {
		return err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	// Run returns once Stop has completed the heartbeat; its own ctx is not
	// cancelled so the final steps can drain.
	if err := s.Run(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	a.logger.Info("scheduler drained", core.F("beats", int(hb.beats.Load())))
	return nil
}

// watchConfig applies log level changes from the config file.
func (a *app) watchConfig(ctx context.Context) {
	m := config.NewManager(a.flagConfig, a.logger)
	if _, err := m.Load(); err != nil {
		a.logger.Warn("config watch disabled", core.F("err", err))
		return
	}
	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	go func() { _ = m.Watch(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			if a.flagLogLevel == "" && !a.flagDebug {
				a.logger.SetLevel(cfg.Log.Level)
				a.logger.Info("log level updated", core.F("level", cfg.Log.Level))
			}
		}
	}
}
