package reports

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// ErrInvalidWindow indicates a negative expiry window.
var ErrInvalidWindow = errors.New("reports: expiry window must be >= 0")

// Ledger exposes the journal reads reports rely on.
type Ledger interface {
	LeafBalances(ctx context.Context, asOf *time.Time) ([]accounting.LeafBalance, error)
}

// Stock exposes the lot reads reports rely on.
type Stock interface {
	ListLots(ctx context.Context, filter inventory.LotFilter) ([]inventory.Lot, error)
}

// Config holds report defaults.
type Config struct {
	ExpiryWindowDays    int
	DefaultReorderLevel int64
	ReorderLevels       map[int64]int64
}

// Service answers read-only questions over both books with cache-aware lookups.
type Service struct {
	ledger Ledger
	stock  Stock
	cache  *Cache
	cfg    Config
	now    func() time.Time
}

// NewService wires the report readers with a Cache helper. cache may be nil.
func NewService(ledger Ledger, stock Stock, cache *Cache, cfg Config) *Service {
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = 30
	}
	return &Service{ledger: ledger, stock: stock, cache: cache, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) fetch(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		return err
	}
	return s.cache.Load(ctx, key, dest, loader)
}

func asOfToken(asOf *time.Time) string {
	if asOf == nil {
		return "now"
	}
	return strconv.FormatInt(asOf.UTC().UnixNano(), 10)
}

func (s *Service) leaves(ctx context.Context, asOf *time.Time) ([]accounting.LeafBalance, error) {
	return s.ledger.LeafBalances(ctx, asOf)
}

// TrialBalance lists every leaf account as of asOf, or current when nil.
func (s *Service) TrialBalance(ctx context.Context, asOf *time.Time) (TrialBalance, error) {
	var tb TrialBalance
	err := s.fetch(ctx, &tb, func(ctx context.Context) (any, error) {
		leaves, err := s.leaves(ctx, asOf)
		if err != nil {
			return nil, err
		}
		out := BuildTrialBalance(leaves)
		out.AsOf = asOf
		return out, nil
	}, "trial_balance", asOfToken(asOf))
	return tb, err
}

// ProfitAndLoss summarizes revenue and expense as of asOf.
func (s *Service) ProfitAndLoss(ctx context.Context, asOf *time.Time) (ProfitAndLoss, error) {
	var pl ProfitAndLoss
	err := s.fetch(ctx, &pl, func(ctx context.Context) (any, error) {
		leaves, err := s.leaves(ctx, asOf)
		if err != nil {
			return nil, err
		}
		return BuildProfitAndLoss(leaves), nil
	}, "profit_and_loss", asOfToken(asOf))
	return pl, err
}

// BalanceSheet summarizes the permanent accounts as of asOf.
func (s *Service) BalanceSheet(ctx context.Context, asOf *time.Time) (BalanceSheet, error) {
	var bs BalanceSheet
	err := s.fetch(ctx, &bs, func(ctx context.Context) (any, error) {
		leaves, err := s.leaves(ctx, asOf)
		if err != nil {
			return nil, err
		}
		return BuildBalanceSheet(leaves), nil
	}, "balance_sheet", asOfToken(asOf))
	return bs, err
}

// StockValuation values on-hand stock at lot cost.
func (s *Service) StockValuation(ctx context.Context, filter ValuationFilter) (StockValuation, error) {
	var v StockValuation
	err := s.fetch(ctx, &v, func(ctx context.Context) (any, error) {
		lots, err := s.stock.ListLots(ctx, inventory.LotFilter{ProductID: filter.ProductID, WarehouseID: filter.WarehouseID})
		if err != nil {
			return nil, err
		}
		return BuildValuation(lots), nil
	}, "valuation", strconv.FormatInt(filter.ProductID, 10), strconv.FormatInt(filter.WarehouseID, 10))
	return v, err
}

// ExpiringLots lists lots expiring within withinDays of today, expired lots
// included. Zero uses the configured window.
func (s *Service) ExpiringLots(ctx context.Context, withinDays int) ([]ExpiringLot, error) {
	if withinDays < 0 {
		return nil, ErrInvalidWindow
	}
	if withinDays == 0 {
		withinDays = s.cfg.ExpiryWindowDays
	}
	now := s.now()
	var out []ExpiringLot
	err := s.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		until := now.AddDate(0, 0, withinDays)
		lots, err := s.stock.ListLots(ctx, inventory.LotFilter{ExpiringBefore: &until})
		if err != nil {
			return nil, err
		}
		return BuildExpiring(lots, now, withinDays), nil
	}, "expiring", now.UTC().Format(time.DateOnly), strconv.Itoa(withinDays))
	return out, err
}

// LowStock lists product and warehouse pairs below their reorder level.
func (s *Service) LowStock(ctx context.Context) ([]LowStockRow, error) {
	now := s.now()
	var out []LowStockRow
	err := s.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		lots, err := s.stock.ListLots(ctx, inventory.LotFilter{IncludeEmpty: true})
		if err != nil {
			return nil, err
		}
		return BuildLowStock(lots, now, s.cfg.ReorderLevels, s.cfg.DefaultReorderLevel), nil
	}, "low_stock", now.UTC().Format(time.DateOnly))
	return out, err
}

// Dashboard bundles the headline reports.
type Dashboard struct {
	TrialBalance TrialBalance   `json:"trialBalance"`
	NetIncome    int64          `json:"netIncome"`
	Valuation    StockValuation `json:"valuation"`
	Expiring     []ExpiringLot  `json:"expiring"`
	LowStock     []LowStockRow  `json:"lowStock"`
	GeneratedAt  time.Time      `json:"generatedAt"`
}

// Dashboard loads the headline reports concurrently.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	data := Dashboard{GeneratedAt: s.now()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tb, err := s.TrialBalance(ctx, nil)
		if err != nil {
			return err
		}
		data.TrialBalance = tb
		return nil
	})

	g.Go(func() error {
		pl, err := s.ProfitAndLoss(ctx, nil)
		if err != nil {
			return err
		}
		data.NetIncome = int64(pl.NetIncome)
		return nil
	})

	g.Go(func() error {
		v, err := s.StockValuation(ctx, ValuationFilter{})
		if err != nil {
			return err
		}
		data.Valuation = v
		return nil
	})

	g.Go(func() error {
		lots, err := s.ExpiringLots(ctx, 0)
		if err != nil {
			return err
		}
		data.Expiring = lots
		return nil
	})

	g.Go(func() error {
		rows, err := s.LowStock(ctx)
		if err != nil {
			return err
		}
		data.LowStock = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return data, nil
}
