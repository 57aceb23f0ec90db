// Package metrics implements driven.PipelineMetrics with Prometheus
// collectors on a private registry. Batch runs write the registry to a
// node_exporter textfile when asked.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "debatepipe"

	// Subsystem groups orchestration metrics.
	Subsystem = "pipeline"
)

// Ensure Metrics implements the interface.
var _ driven.PipelineMetrics = (*Metrics)(nil)

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	StageOutcomes   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	ClaimsLost      *prometheus.CounterVec
	Recovered       prometheus.Counter
	Resolutions     *prometheus.CounterVec
	InFlight        *prometheus.GaugeVec
	LastRunUnixTime prometheus.Gauge
}

// New creates and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "stage_outcomes_total",
				Help:      "Executor outcomes by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Executor wall time per stage",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27min
			},
			[]string{"stage"},
		),
		ClaimsLost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "claims_lost_total",
				Help:      "Compare-and-set operations that lost the race",
			},
			[]string{"stage"},
		),
		Recovered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "recovered_total",
				Help:      "Running pairs reset to pending by crash recovery",
			},
		),
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "resolutions_total",
				Help:      "Deduplication outcomes by kind",
			},
			[]string{"kind"},
		),
		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "in_flight",
				Help:      "Pairs currently executing per stage",
			},
			[]string{"stage"},
		),
		LastRunUnixTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last metrics snapshot was written",
			},
		),
	}
}

// ObserveOutcome records an executor outcome for stage.
func (m *Metrics) ObserveOutcome(stage, outcome string, duration time.Duration) {
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveClaimLost records a lost compare-and-set.
func (m *Metrics) ObserveClaimLost(stage string) {
	m.ClaimsLost.WithLabelValues(stage).Inc()
}

// ObserveRecovered records pairs reset by crash recovery.
func (m *Metrics) ObserveRecovered(n int) {
	if n > 0 {
		m.Recovered.Add(float64(n))
	}
}

// ObserveResolution records a resolver outcome.
func (m *Metrics) ObserveResolution(kind string) {
	m.Resolutions.WithLabelValues(kind).Inc()
}

// SetInFlight reports the number of running pairs for stage.
func (m *Metrics) SetInFlight(stage string, n int) {
	m.InFlight.WithLabelValues(stage).Set(float64(n))
}

// Registry exposes the private registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes a snapshot in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	m.LastRunUnixTime.Set(float64(time.Now().Unix()))
	return prometheus.WriteToTextfile(path, m.registry)
}
