// Package metrics collects and exposes Prometheus metrics for the verification engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the engine components.
type Recorder interface {
	RecordCycle(outcome string, duration time.Duration)
	RecordAlert(kind string)
	RecordPersistenceFailure(op string)
	RecordModelLoad(source, result string)
	RecordCameraAcquisition(result string)
}

// Cycle outcomes.
const (
	OutcomeSkipped   = "skipped"
	OutcomeNoFace    = "no_face"
	OutcomeMatch     = "match"
	OutcomeMismatch  = "mismatch"
	OutcomeUndecided = "undecided"
	OutcomeDiscarded = "discarded"
	OutcomeError     = "error"
)

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	cycles             *prometheus.CounterVec
	cycleLatency       prometheus.Histogram
	alerts             *prometheus.CounterVec
	persistenceFailure *prometheus.CounterVec
	modelLoads         *prometheus.CounterVec
	cameraAcquisitions *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceguard_cycles_total",
			Help: "Monitoring cycles by outcome",
		}, []string{"outcome"}),
		cycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceguard_cycle_latency_seconds",
			Help:    "Duration of evaluated monitoring cycles",
			Buckets: prometheus.DefBuckets,
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceguard_alerts_total",
			Help: "Raised alerts by kind",
		}, []string{"kind"}),
		persistenceFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceguard_persistence_failures_total",
			Help: "Failed session store writes by operation",
		}, []string{"op"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceguard_model_loads_total",
			Help: "Model load attempts by source and result",
		}, []string{"source", "result"}),
		cameraAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceguard_camera_acquisitions_total",
			Help: "Camera hardware acquisition requests by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleLatency,
		c.alerts,
		c.persistenceFailure,
		c.modelLoads,
		c.cameraAcquisitions,
	)

	return c
}

// RecordCycle records one monitoring cycle. Skipped cycles do not contribute to latency.
func (c *Collector) RecordCycle(outcome string, duration time.Duration) {
	c.cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		c.cycleLatency.Observe(duration.Seconds())
	}
}

func (c *Collector) RecordAlert(kind string) {
	c.alerts.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPersistenceFailure(op string) {
	c.persistenceFailure.WithLabelValues(op).Inc()
}

func (c *Collector) RecordModelLoad(source, result string) {
	c.modelLoads.WithLabelValues(source, result).Inc()
}

func (c *Collector) RecordCameraAcquisition(result string) {
	c.cameraAcquisitions.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards all metrics. Used by the CLI commands and tests.
type Nop struct{}

func (Nop) RecordCycle(string, time.Duration) {}
func (Nop) RecordAlert(string)                {}
func (Nop) RecordPersistenceFailure(string)   {}
func (Nop) RecordModelLoad(string, string)    {}
func (Nop) RecordCameraAcquisition(string)    {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
