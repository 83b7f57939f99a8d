// Package telemetry records workflow execution metrics. Recording is fire
// and forget: callers never see a failure.
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names understood by the Prometheus recorder.
const (
	MetricStepDuration        = "step_duration_seconds"
	MetricStepResults         = "step_results_total"
	MetricRunDuration         = "run_duration_seconds"
	MetricRunResults          = "run_results_total"
	MetricExecutorsRegistered = "executors_registered"
)

// Label keys.
const (
	LabelCapability = "capability"
	LabelOutcome    = "outcome"
	LabelStatus     = "status"
)

const namespace = "fusion"

// Recorder accepts metric observations.
type Recorder interface {
	RecordMetric(name string, value float64, labels map[string]string)
}

// Nop discards every observation.
type Nop struct{}

// RecordMetric implements Recorder.
func (Nop) RecordMetric(string, float64, map[string]string) {}

// Compile-time interface satisfaction checks.
var (
	_ Recorder = Nop{}
	_ Recorder = (*Prometheus)(nil)
)

type observer func(value float64, labels prometheus.Labels) error

// Prometheus records metrics into Prometheus collectors. Unknown metric
// names and label mismatches are logged and dropped.
type Prometheus struct {
	metrics map[string]observer
	logger  *slog.Logger
}

// NewPrometheus creates the workflow collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer, logger *slog.Logger) (*Prometheus, error) {
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricStepDuration,
			Help:      "Duration of workflow step executions in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelCapability, LabelOutcome},
	)

	stepResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricStepResults,
			Help:      "Total number of workflow step results by outcome.",
		},
		[]string{LabelCapability, LabelOutcome},
	)

	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricRunDuration,
			Help:      "Duration of workflow runs from start to terminal state, in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelStatus},
	)

	runResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRunResults,
			Help:      "Total number of workflow runs by terminal status.",
		},
		[]string{LabelStatus},
	)

	executors := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricExecutorsRegistered,
			Help:      "Number of executors currently registered.",
		},
	)

	for _, c := range []prometheus.Collector{stepDuration, stepResults, runDuration, runResults, executors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	// Pre-initialize run status labels so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, st := range []string{"completed", "failed"} {
		runResults.WithLabelValues(st)
	}

	return &Prometheus{
		logger: logger,
		metrics: map[string]observer{
			MetricStepDuration: func(v float64, l prometheus.Labels) error {
				o, err := stepDuration.GetMetricWith(l)
				if err != nil {
					return err
				}
				o.Observe(v)
				return nil
			},
			MetricStepResults: func(v float64, l prometheus.Labels) error {
				c, err := stepResults.GetMetricWith(l)
				if err != nil {
					return err
				}
				c.Add(v)
				return nil
			},
			MetricRunDuration: func(v float64, l prometheus.Labels) error {
				o, err := runDuration.GetMetricWith(l)
				if err != nil {
					return err
				}
				o.Observe(v)
				return nil
			},
			MetricRunResults: func(v float64, l prometheus.Labels) error {
				c, err := runResults.GetMetricWith(l)
				if err != nil {
					return err
				}
				c.Add(v)
				return nil
			},
			MetricExecutorsRegistered: func(v float64, _ prometheus.Labels) error {
				executors.Set(v)
				return nil
			},
		},
	}, nil
}

// RecordMetric implements Recorder. It never panics.
func (p *Prometheus) RecordMetric(name string, value float64, labels map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telemetry panicked",
				"metric", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	obs, ok := p.metrics[name]
	if !ok {
		p.logger.Warn("unknown metric", "metric", name)
		return
	}
	if err := obs(value, prometheus.Labels(labels)); err != nil {
		p.logger.Warn("record metric", "metric", name, "error", err)
	}
}
