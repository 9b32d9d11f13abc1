package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/reports"
)

// ExpiryReporter lists lots close to expiry.
type ExpiryReporter interface {
	ExpiringLots(ctx context.Context, withinDays int) ([]reports.ExpiringLot, error)
}

// ExpiryScanJob logs a warning for every lot inside the expiry window.
type ExpiryScanJob struct {
	base
	Reports ExpiryReporter
}

// NewExpiryScanJob wires the expiry scan handler.
func NewExpiryScanJob(rep ExpiryReporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{base: base{Logger: logger, Metrics: metrics}, Reports: rep}
}

// Handle executes the scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.WithinDays < 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskExpiryScan)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger(TaskExpiryScan)
	lots, err := j.Reports.ExpiringLots(ctx, payload.WithinDays)
	if err != nil {
		logger.Error("expiry scan failed", slog.Any("error", err))
		return err
	}
	for _, lot := range lots {
		logger.Warn("lot nearing expiry",
			slog.String("lot", lot.LotID.String()),
			slog.Int64("product_id", lot.ProductID),
			slog.Int64("warehouse_id", lot.WarehouseID),
			slog.Int64("on_hand", lot.OnHand),
			slog.String("expiry", lot.ExpiryDate),
			slog.Int("days_left", lot.DaysLeft))
	}
	logger.Info("expiry scan complete", slog.Int("lots", len(lots)))
	return nil
}

// DashboardLoader builds the cached dashboard.
type DashboardLoader interface {
	Dashboard(ctx context.Context) (reports.Dashboard, error)
}

// WarmupJob pre-populates the report cache after bumps.
type WarmupJob struct {
	base
	Reports DashboardLoader
}

// NewWarmupJob wires the warmup handler.
func NewWarmupJob(rep DashboardLoader, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	return &WarmupJob{base: base{Logger: logger, Metrics: metrics}, Reports: rep}
}

// Handle executes the warmup.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("warmup: handler not configured")
	}
	var payload WarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskReportWarmup)
	defer func() { resultErr = tracker.End(resultErr) }()

	dash, err := j.Reports.Dashboard(ctx)
	if err != nil {
		j.logger(TaskReportWarmup).Error("warmup failed", slog.Any("error", err))
		return err
	}
	j.logger(TaskReportWarmup).Debug("report cache warmed",
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Time("generated_at", dash.GeneratedAt),
		slog.Bool("balanced", dash.TrialBalance.Balanced()))
	return nil
}
