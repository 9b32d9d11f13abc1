package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/reports"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSweeper struct {
	ttl      time.Duration
	released int
	err      error
}

func (f *fakeSweeper) SweepExpiredReservations(_ context.Context, ttl time.Duration) (int, error) {
	f.ttl = ttl
	return f.released, f.err
}

func (f *fakeSweeper) DiscardStaleDrafts(_ context.Context, ttl time.Duration) (int, error) {
	f.ttl = ttl
	return f.released, f.err
}

type fakeLedger struct {
	drift   []accounting.BalanceDrift
	rebuilt int
}

func (f *fakeLedger) Verify(context.Context) ([]accounting.BalanceDrift, error) { return f.drift, nil }

func (f *fakeLedger) Rebuild(context.Context) (int, error) {
	f.rebuilt++
	n := len(f.drift)
	f.drift = nil
	return n, nil
}

type fakeStock struct {
	drift []inventory.LotDrift
}

func (f *fakeStock) Verify(context.Context) ([]inventory.LotDrift, error) { return f.drift, nil }

func (f *fakeStock) Rebuild(context.Context) (int, error) {
	n := len(f.drift)
	f.drift = nil
	return n, nil
}

type fakeReports struct {
	days  int
	lots  []reports.ExpiringLot
	calls atomic.Int32
}

func (f *fakeReports) ExpiringLots(_ context.Context, within int) ([]reports.ExpiringLot, error) {
	f.days = within
	return f.lots, nil
}

func (f *fakeReports) Dashboard(context.Context) (reports.Dashboard, error) {
	f.calls.Add(1)
	return reports.Dashboard{GeneratedAt: time.Now()}, nil
}

func newMetrics(t *testing.T) *jobmetrics.Metrics {
	t.Helper()
	m, _ := newMetricsWithRegistry(t)
	return m
}

func newMetricsWithRegistry(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

// counter returns the value of the series of name carrying label=value.
func counter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func mustTask(t *testing.T, typ string) *asynq.Task {
	t.Helper()
	task, err := NewTask(typ)
	require.NoError(t, err)
	return task
}

func TestReservationSweepUsesPayloadTTL(t *testing.T) {
	sweeper := &fakeSweeper{released: 3}
	metrics, reg := newMetricsWithRegistry(t)
	job := NewReservationSweepJob(sweeper, 15*time.Minute, quiet, metrics)

	require.NoError(t, job.Handle(context.Background(), mustTask(t, TaskReservationSweep)))
	assert.Equal(t, 15*time.Minute, sweeper.ttl)

	task, err := NewReservationSweepTask(SweepPayload{TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, time.Minute, sweeper.ttl)
	assert.Equal(t, float64(6), counter(t, reg, "stockledger_swept_total", "kind", "reservation"))
}

func TestSweepRejectsBadPayload(t *testing.T) {
	job := NewDraftSweepJob(&fakeSweeper{}, time.Hour, quiet, newMetrics(t))
	err := job.Handle(context.Background(), asynq.NewTask(TaskDraftSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepFailureCounted(t *testing.T) {
	metrics, reg := newMetricsWithRegistry(t)
	job := NewDraftSweepJob(&fakeSweeper{err: errors.New("db down")}, time.Hour, quiet, metrics)
	require.Error(t, job.Handle(context.Background(), mustTask(t, TaskDraftSweep)))
	assert.Equal(t, float64(1), counter(t, reg, "stockledger_jobs_failures_total", "job", TaskDraftSweep))
}

func TestIntegrityReportsDrift(t *testing.T) {
	ledger := &fakeLedger{drift: []accounting.BalanceDrift{{AccountID: 3, Code: "1300", Cached: 500, Replayed: 400}}}
	stock := &fakeStock{drift: []inventory.LotDrift{{LotID: uuid.New(), OnHand: 4, Replayed: 5}}}
	metrics, reg := newMetricsWithRegistry(t)
	job := NewIntegrityJob(ledger, stock, quiet, metrics)

	err := job.Handle(context.Background(), mustTask(t, TaskLedgerIntegrity))
	require.ErrorIs(t, err, ErrDrift)
	assert.Zero(t, ledger.rebuilt)
	assert.Equal(t, float64(1), counter(t, reg, "stockledger_integrity_drift_total", "book", "ledger"))
	assert.Equal(t, float64(1), counter(t, reg, "stockledger_integrity_drift_total", "book", "inventory"))

	task, err := NewIntegrityTask(IntegrityPayload{Rebuild: true})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, ledger.rebuilt)

	report, err := job.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestExpiryScanPassesWindow(t *testing.T) {
	rep := &fakeReports{lots: []reports.ExpiringLot{{LotID: uuid.New(), ProductID: 7, DaysLeft: 2}}}
	job := NewExpiryScanJob(rep, quiet, newMetrics(t))

	task, err := NewExpiryScanTask(ExpiryScanPayload{WithinDays: 14})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 14, rep.days)

	bad, err := NewExpiryScanTask(ExpiryScanPayload{WithinDays: -1})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestNewTaskUnknownType(t *testing.T) {
	_, err := NewTask("nope")
	var unknown *UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Type)
	for _, typ := range TaskTypes() {
		task, err := NewTask(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, task.Type())
	}
}

func TestScheduleCron(t *testing.T) {
	cron, err := Schedule{ReservationSweep: 5 * time.Minute, Integrity: time.Hour}.Cron()
	require.NoError(t, err)
	require.Len(t, cron, 2)
	assert.Equal(t, "@every 5m0s", cron[0].Spec)
	assert.Equal(t, TaskReservationSweep, cron[0].Task.Type())
	assert.Equal(t, TaskLedgerIntegrity, cron[1].Task.Type())
}

func TestInlineRunnerTicks(t *testing.T) {
	rep := &fakeReports{}
	set := Set{Warmup: NewWarmupJob(rep, quiet, newMetrics(t))}
	runner := NewInlineRunner(quiet, set.Periodic(Schedule{Warmup: 5 * time.Millisecond})...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	require.Eventually(t, func() bool { return rep.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestHandlerTrigger(t *testing.T) {
	rep := &fakeReports{}
	set := Set{Warmup: NewWarmupJob(rep, quiet, newMetrics(t))}
	runner := NewInlineRunner(quiet, set.Periodic(Schedule{})...)

	r := chi.NewRouter()
	NewHandler(nil, runner, quiet).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/"+TaskReportWarmup+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 1, rep.calls.Load())

	resp, err = http.Post(srv.URL+"/"+TaskDraftSweep+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "inline", body["mode"])
}
