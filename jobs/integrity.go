package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// ErrDrift indicates a cache disagreed with its log and was not rebuilt.
var ErrDrift = errors.New("jobs: integrity drift detected")

// LedgerChecker verifies and rebuilds account balances.
type LedgerChecker interface {
	Verify(ctx context.Context) ([]accounting.BalanceDrift, error)
	Rebuild(ctx context.Context) (int, error)
}

// StockChecker verifies and rebuilds lot quantities.
type StockChecker interface {
	Verify(ctx context.Context) ([]inventory.LotDrift, error)
	Rebuild(ctx context.Context) (int, error)
}

// IntegrityReport summarizes one integrity run.
type IntegrityReport struct {
	Ledger       []accounting.BalanceDrift
	Stock        []inventory.LotDrift
	LedgerFixed  int
	StockFixed   int
	RebuildAsked bool
}

// Clean reports whether no drift was found.
func (r IntegrityReport) Clean() bool { return len(r.Ledger) == 0 && len(r.Stock) == 0 }

// IntegrityJob replays the journal and movement logs against their caches.
type IntegrityJob struct {
	base
	Ledger LedgerChecker
	Stock  StockChecker
}

// NewIntegrityJob wires the integrity handler.
func NewIntegrityJob(ledger LedgerChecker, stock StockChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{base: base{Logger: logger, Metrics: metrics}, Ledger: ledger, Stock: stock}
}

// Run verifies both books and rebuilds them when asked.
func (j *IntegrityJob) Run(ctx context.Context, rebuild bool) (IntegrityReport, error) {
	report := IntegrityReport{RebuildAsked: rebuild}
	var err error
	if report.Ledger, err = j.Ledger.Verify(ctx); err != nil {
		return report, fmt.Errorf("verify ledger: %w", err)
	}
	if report.Stock, err = j.Stock.Verify(ctx); err != nil {
		return report, fmt.Errorf("verify stock: %w", err)
	}
	j.metrics().AddDrift("ledger", len(report.Ledger))
	j.metrics().AddDrift("inventory", len(report.Stock))
	if !rebuild {
		return report, nil
	}
	if len(report.Ledger) > 0 {
		if report.LedgerFixed, err = j.Ledger.Rebuild(ctx); err != nil {
			return report, fmt.Errorf("rebuild ledger: %w", err)
		}
	}
	if len(report.Stock) > 0 {
		if report.StockFixed, err = j.Stock.Rebuild(ctx); err != nil {
			return report, fmt.Errorf("rebuild stock: %w", err)
		}
	}
	return report, nil
}

// Handle executes the integrity check. Unrepaired drift fails the task so
// it shows up in job failure metrics.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil || j.Stock == nil {
		return errors.New("integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger(TaskLedgerIntegrity)
	report, err := j.Run(ctx, payload.Rebuild)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return err
	}
	for _, d := range report.Ledger {
		logger.Warn("account balance drift",
			slog.String("code", d.Code),
			slog.Int64("cached", int64(d.Cached)),
			slog.Int64("replayed", int64(d.Replayed)))
	}
	for _, d := range report.Stock {
		logger.Warn("lot quantity drift",
			slog.String("lot", d.LotID.String()),
			slog.Int64("on_hand", d.OnHand),
			slog.Int64("replayed", d.Replayed),
			slog.Int64("reserved", d.Reserved),
			slog.Int64("reserved_replayed", d.ReservedReplayed))
	}
	if report.Clean() {
		logger.Info("ledger and stock caches consistent")
		return nil
	}
	if payload.Rebuild {
		logger.Info("caches rebuilt", slog.Int("accounts", report.LedgerFixed), slog.Int("lots", report.StockFixed))
		return nil
	}
	return fmt.Errorf("%w: %d accounts, %d lots", ErrDrift, len(report.Ledger), len(report.Stock))
}
