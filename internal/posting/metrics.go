package posting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for composite transactions.
type Metrics struct {
	composites    *prometheus.CounterVec
	compensations *prometheus.CounterVec
	retries       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics registers the coordinator metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	composites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_composites_total",
		Help: "Composite transactions partitioned by kind and outcome.",
	}, []string{"kind", "outcome"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_compensations_total",
		Help: "Composite transactions rolled back after the journal posted.",
	}, []string{"kind"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_commit_retries_total",
		Help: "Commit-phase retries after transient failures.",
	}, []string{"kind"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_composite_duration_seconds",
		Help:    "Duration in seconds of composite transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	registerer.MustRegister(composites, compensations, retries, duration)
	return &Metrics{composites: composites, compensations: compensations, retries: retries, duration: duration}
}

func (m *Metrics) observe(kind Kind, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.composites.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) compensated(kind Kind) {
	if m != nil {
		m.compensations.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) retried(kind Kind) {
	if m != nil {
		m.retries.WithLabelValues(string(kind)).Inc()
	}
}
