package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// base carries the dependencies every job shares.
type base struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func (b base) logger(job string) *slog.Logger {
	if b.Logger != nil {
		return b.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (b base) metrics() *jobmetrics.Metrics {
	if b.Metrics != nil {
		return b.Metrics
	}
	return defaultJobMetrics
}

// ReservationSweeper releases reservations older than a TTL.
type ReservationSweeper interface {
	SweepExpiredReservations(ctx context.Context, ttl time.Duration) (int, error)
}

// ReservationSweepJob returns abandoned reservations to available stock.
type ReservationSweepJob struct {
	base
	Stock ReservationSweeper
	TTL   time.Duration
}

// NewReservationSweepJob wires the reservation sweep handler.
func NewReservationSweepJob(stock ReservationSweeper, ttl time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{base: base{Logger: logger, Metrics: metrics}, Stock: stock, TTL: ttl}
}

// Handle executes the sweep.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Stock == nil {
		return errors.New("reservation sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ttl := j.TTL
	if payload.TTL > 0 {
		ttl = payload.TTL
	}
	tracker := j.metrics().Track(TaskReservationSweep)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger(TaskReservationSweep)
	released, err := j.Stock.SweepExpiredReservations(ctx, ttl)
	j.metrics().AddSwept("reservation", released)
	if err != nil {
		logger.Error("sweep failed", slog.Int("released", released), slog.Any("error", err))
		return err
	}
	if released > 0 {
		logger.Info("released stale reservations", slog.Int("released", released), slog.Duration("ttl", ttl))
	}
	return nil
}

// DraftSweeper discards stale journal drafts.
type DraftSweeper interface {
	DiscardStaleDrafts(ctx context.Context, olderThan time.Duration) (int, error)
}

// DraftSweepJob deletes drafts nobody finished.
type DraftSweepJob struct {
	base
	Ledger DraftSweeper
	TTL    time.Duration
}

// NewDraftSweepJob wires the draft sweep handler.
func NewDraftSweepJob(ledger DraftSweeper, ttl time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *DraftSweepJob {
	return &DraftSweepJob{base: base{Logger: logger, Metrics: metrics}, Ledger: ledger, TTL: ttl}
}

// Handle executes the sweep.
func (j *DraftSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("draft sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ttl := j.TTL
	if payload.TTL > 0 {
		ttl = payload.TTL
	}
	tracker := j.metrics().Track(TaskDraftSweep)
	defer func() { resultErr = tracker.End(resultErr) }()

	discarded, err := j.Ledger.DiscardStaleDrafts(ctx, ttl)
	if err != nil {
		j.logger(TaskDraftSweep).Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.metrics().AddSwept("draft", discarded)
	if discarded > 0 {
		j.logger(TaskDraftSweep).Info("discarded stale drafts", slog.Int("discarded", discarded), slog.Duration("ttl", ttl))
	}
	return nil
}

// KeyCleaner forgets idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencySweepJob bounds the idempotency key table.
type IdempotencySweepJob struct {
	base
	Keys KeyCleaner
	TTL  time.Duration
}

// NewIdempotencySweepJob wires the idempotency sweep handler.
func NewIdempotencySweepJob(keys KeyCleaner, ttl time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencySweepJob {
	return &IdempotencySweepJob{base: base{Logger: logger, Metrics: metrics}, Keys: keys, TTL: ttl}
}

// Handle executes the sweep.
func (j *IdempotencySweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ttl := j.TTL
	if payload.TTL > 0 {
		ttl = payload.TTL
	}
	tracker := j.metrics().Track(TaskIdempotencySweep)
	defer func() { resultErr = tracker.End(resultErr) }()

	if err := j.Keys.Cleanup(ctx, ttl); err != nil {
		j.logger(TaskIdempotencySweep).Error("sweep failed", slog.Any("error", err))
		return err
	}
	return nil
}

var _ ReservationSweeper = (*inventory.Service)(nil)
