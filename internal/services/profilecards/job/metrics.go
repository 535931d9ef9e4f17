package job

import (
	"time"

	"github.com/louisbranch/profilecards/internal/platform/telemetry/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Candidate outcomes counted per bulk apply run.
const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Metrics records job and candidate counters. A nil *Metrics is a no-op.
type Metrics struct {
	finished   *prometheus.CounterVec
	candidates *prometheus.CounterVec
	running    prometheus.Gauge
	duration   prometheus.Histogram
}

// NewMetrics registers job metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		finished:   reg.MustRegisterCounterVec("jobs", "finished_total", "Bulk apply jobs by terminal state.", "state"),
		candidates: reg.MustRegisterCounterVec("jobs", "candidates_total", "Bulk apply candidates by outcome.", "outcome"),
		running:    reg.MustRegisterGauge("jobs", "running", "Bulk apply jobs currently running."),
		duration:   reg.MustRegisterHistogram("jobs", "duration_seconds", "Bulk apply job run time.", prometheus.ExponentialBuckets(0.05, 4, 8)),
	}
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) jobFinished(state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.finished.WithLabelValues(string(state)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) candidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}
