package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/wildducktheories/tasklet/core"
)

const defaultNamespace = "tasklet"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	stepDurationSeconds *prom.HistogramVec
	stepsTotal          *prom.CounterVec
	stepFailuresTotal   *prom.CounterVec
	rejectedTotal       *prom.CounterVec
	readyDepth          *prom.GaugeVec
	pendingDepth        *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Tasklet step duration in seconds.",
		Buckets:   buckets,
	}, []string{"scheduler", "mode"})
	stepsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Total number of tasklet steps by resulting directive.",
	}, []string{"scheduler", "mode", "directive"})
	failuresVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "step_failures_total",
		Help:      "Total number of failed tasklet steps.",
	}, []string{"scheduler", "mode"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_total",
		Help:      "Total number of rejected directives.",
	}, []string{"scheduler", "reason"})
	readyVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "ready_queue_depth",
		Help:      "Current number of tasklets ready for the synchronous owner.",
	}, []string{"scheduler"})
	pendingVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_tasklets",
		Help:      "Current number of live tasklets in the pending registry.",
	}, []string{"scheduler"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if stepsVec, err = registerCollector(reg, stepsVec); err != nil {
		return nil, err
	}
	if failuresVec, err = registerCollector(reg, failuresVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if readyVec, err = registerCollector(reg, readyVec); err != nil {
		return nil, err
	}
	if pendingVec, err = registerCollector(reg, pendingVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		stepDurationSeconds: durationVec,
		stepsTotal:          stepsVec,
		stepFailuresTotal:   failuresVec,
		rejectedTotal:       rejectedVec,
		readyDepth:          readyVec,
		pendingDepth:        pendingVec,
	}, nil
}

// RecordStep records one step's duration and resulting directive.
func (m *MetricsExporter) RecordStep(schedulerName string, mode core.StepMode, directive core.Directive, duration time.Duration) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedulerName, "unknown")
	m.stepDurationSeconds.WithLabelValues(name, mode.String()).Observe(duration.Seconds())
	m.stepsTotal.WithLabelValues(name, mode.String(), directiveLabel(directive)).Inc()
}

// RecordStepFailure records a failed step.
func (m *MetricsExporter) RecordStepFailure(schedulerName string, mode core.StepMode) {
	if m == nil {
		return
	}
	m.stepFailuresTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), mode.String()).Inc()
}

// RecordQueueDepth records the ready queue and pending registry sizes.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, ready, pending int) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedulerName, "unknown")
	m.readyDepth.WithLabelValues(name).Set(float64(ready))
	m.pendingDepth.WithLabelValues(name).Set(float64(pending))
}

// RecordRejected records a rejected directive.
func (m *MetricsExporter) RecordRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func directiveLabel(d core.Directive) string {
	if !d.Valid() {
		return "unknown"
	}
	return d.String()
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
