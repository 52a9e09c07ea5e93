// Package config loads the YAML configuration used by taskletctl.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wildducktheories/tasklet/core"
)

// Config is the on-disk configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pool      PoolConfig      `yaml:"pool"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Stress    StressConfig    `yaml:"stress"`
}

// LogConfig selects the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error, off
	Format string `yaml:"format"` // console or json
}

// SchedulerConfig maps onto core.SchedulerConfig.
type SchedulerConfig struct {
	Name            string `yaml:"name"`
	HistoryCapacity int    `yaml:"history_capacity"`
	// FailureLogRate caps logged step failures per second; 0 disables the cap.
	FailureLogRate int `yaml:"failure_log_rate"`
}

// PoolConfig sizes the worker pool async steps run on.
type PoolConfig struct {
	Workers int `yaml:"workers"`
}

// MetricsConfig configures the prometheus exporter.
type MetricsConfig struct {
	Namespace    string        `yaml:"namespace"`
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StressConfig shapes the stress run.
type StressConfig struct {
	Tasklets   int           `yaml:"tasklets"`
	Steps      int           `yaml:"steps"`
	AsyncEvery int           `yaml:"async_every"`
	AsyncDelay time.Duration `yaml:"async_delay"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Scheduler: SchedulerConfig{
			Name:            "taskletctl",
			HistoryCapacity: 100,
			FailureLogRate:  20,
		},
		Pool: PoolConfig{Workers: 4},
		Metrics: MetricsConfig{
			Namespace:    "tasklet",
			Listen:       ":2112",
			PollInterval: time.Second,
		},
		Stress: StressConfig{
			Tasklets:   1000,
			Steps:      10,
			AsyncEvery: 3,
			AsyncDelay: time.Millisecond,
		},
	}
}

// Load reads path, fills unset fields from Default and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "off", "disabled", "":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Scheduler.HistoryCapacity < 0 {
		errs = append(errs, errors.New("scheduler.history_capacity: must not be negative"))
	}
	if c.Scheduler.FailureLogRate < 0 {
		errs = append(errs, errors.New("scheduler.failure_log_rate: must not be negative"))
	}
	if c.Pool.Workers <= 0 {
		errs = append(errs, errors.New("pool.workers: must be positive"))
	}
	if c.Metrics.PollInterval < 0 {
		errs = append(errs, errors.New("metrics.poll_interval: must not be negative"))
	}
	if c.Stress.Tasklets < 0 || c.Stress.Steps < 0 || c.Stress.AsyncEvery < 0 {
		errs = append(errs, errors.New("stress: counts must not be negative"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the zerolog-backed logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *core.ZerologLogger {
	if c.Log.Format == "json" {
		return core.NewJSONLogger(w, c.Log.Level)
	}
	return core.NewConsoleLogger(w, c.Log.Level)
}
