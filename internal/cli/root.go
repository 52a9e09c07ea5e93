// Package cli implements the taskletctl command.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wildducktheories/tasklet"
	"github.com/wildducktheories/tasklet/config"
	"github.com/wildducktheories/tasklet/core"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    *config.Config
	logger *core.ZerologLogger
}

// NewRootCmd creates the root cobra command for taskletctl.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "taskletctl",
		Short: "Drive and observe tasklet schedulers",
		Long:  "taskletctl runs the tasklet scheduler scenarios, stress-tests a scheduler and serves its metrics.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&a.flagConfig, "config", "c", "", "YAML config file")
	root.PersistentFlags().BoolVar(&a.flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&a.flagLogFormat, "log-format", "", "Log format (console, json); overrides the config file")

	root.AddCommand(
		newScenarioCmd(a),
		newStressCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.flagConfig != "" {
		loaded, err := config.Load(a.flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.flagLogLevel != "" {
		cfg.Log.Level = a.flagLogLevel
	}
	if a.flagDebug {
		cfg.Log.Level = "debug"
	}
	if a.flagLogFormat != "" {
		cfg.Log.Format = a.flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

// startPool starts a worker pool sized by the config. The caller stops it.
func (a *app) startPool(ctx context.Context, id string) *tasklet.GoroutineThreadPool {
	pool := tasklet.NewGoroutineThreadPool(id, a.cfg.Pool.Workers)
	pool.SetLogger(a.logger)
	pool.Start(ctx)
	return pool
}

// newScheduler creates a scheduler configured from the config file.
func (a *app) newScheduler(name string, executor core.Executor, metrics core.Metrics) *tasklet.Scheduler {
	opts := []tasklet.Option{
		tasklet.WithName(name),
		tasklet.WithLogger(a.logger),
		tasklet.WithHistoryCapacity(a.cfg.Scheduler.HistoryCapacity),
		tasklet.WithFailureReporter(core.NewLogFailureReporter(a.logger, a.cfg.Scheduler.FailureLogRate)),
	}
	if executor != nil {
		opts = append(opts, tasklet.WithExecutor(executor))
	}
	if metrics != nil {
		opts = append(opts, tasklet.WithMetrics(metrics))
	}
	return tasklet.NewScheduler(opts...)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
