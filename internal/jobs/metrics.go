// Package jobmetrics instruments background job runs: outcome counters,
// latency, the last successful run, and the integrity and sweep tallies
// the jobs report.
package jobmetrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusCanceled = "canceled"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	drift       *prometheus.CounterVec
	swept       *prometheus.CounterVec
	now         func() time.Time
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers the collectors with reg. A nil reg shares one
// instance on the global registry so repeated calls do not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_jobs_failures_total",
			Help: "Job runs that returned an error.",
		}, []string{"job"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_job_duration_seconds",
			Help:    "Wall time of one job run.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_integrity_drift_total",
			Help: "Cached rows that disagreed with the append-only log.",
		}, []string{"book"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_swept_total",
			Help: "Stale reservations, drafts and keys closed by sweeps.",
		}, []string{"kind"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.failures, m.latency, m.lastSuccess, m.drift, m.swept)
	return m
}

// Tracker times one run. Obtain it with Track and finish it with End.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	t := &Tracker{m: m, job: job}
	if m != nil {
		t.start = m.now()
	}
	return t
}

// End records the outcome of the run and passes err through. Context
// cancellation counts as canceled, not as a failure.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	now := t.m.now()
	status := StatusSuccess
	switch {
	case errors.Is(err, context.Canceled):
		status = StatusCanceled
	case err != nil:
		status = StatusFailure
		t.m.failures.WithLabelValues(t.job).Inc()
	default:
		t.m.lastSuccess.WithLabelValues(t.job).Set(float64(now.Unix()))
	}
	t.m.runs.WithLabelValues(t.job, status).Inc()
	t.m.latency.WithLabelValues(t.job).Observe(now.Sub(t.start).Seconds())
	return err
}

// AddDrift counts cached balances or lots found out of step with their log.
// book is "ledger" or "inventory".
func (m *Metrics) AddDrift(book string, count int) {
	if m != nil && count > 0 {
		m.drift.WithLabelValues(book).Add(float64(count))
	}
}

// AddSwept counts records closed by a sweep job.
func (m *Metrics) AddSwept(kind string, count int) {
	if m != nil && count > 0 {
		m.swept.WithLabelValues(kind).Add(float64(count))
	}
}
