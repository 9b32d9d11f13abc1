package jobmetrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	return 0
}

func TestTrackerOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	clock := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Track("sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("sweep").End(boom), boom)
	require.ErrorIs(t, m.Track("sweep").End(context.Canceled), context.Canceled)

	require.Equal(t, 1.0, value(t, m.runs.WithLabelValues("sweep", StatusSuccess)))
	require.Equal(t, 1.0, value(t, m.runs.WithLabelValues("sweep", StatusFailure)))
	require.Equal(t, 1.0, value(t, m.runs.WithLabelValues("sweep", StatusCanceled)))
	require.Equal(t, 1.0, value(t, m.failures.WithLabelValues("sweep")))
	require.Equal(t, float64(clock.Unix()), value(t, m.lastSuccess.WithLabelValues("sweep")))
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddDrift("ledger", 3)
	m.AddSwept("draft", 1)
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDrift("ledger", 0)
	m.AddSwept("reservation", -1)
	m.AddDrift("ledger", 2)
	require.Equal(t, 2.0, value(t, m.drift.WithLabelValues("ledger")))
	require.Zero(t, value(t, m.swept.WithLabelValues("reservation")))
}
