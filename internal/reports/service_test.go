package reports

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type fakeLedger struct {
	calls  atomic.Int32
	delay  time.Duration
	leaves []accounting.LeafBalance
}

func (f *fakeLedger) LeafBalances(context.Context, *time.Time) ([]accounting.LeafBalance, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.leaves, nil
}

type fakeStock struct {
	mu      sync.Mutex
	calls   int
	filters []inventory.LotFilter
	lots    []inventory.Lot
}

func (f *fakeStock) ListLots(_ context.Context, filter inventory.LotFilter) ([]inventory.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, filter)
	return f.lots, nil
}

func newTestService(t *testing.T) (*Service, *Cache, *fakeLedger, *fakeStock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	ledger := &fakeLedger{leaves: sampleLeaves()}
	stock := &fakeStock{lots: sampleLots()}
	svc := NewService(ledger, stock, cache, Config{ExpiryWindowDays: 30, DefaultReorderLevel: 5, ReorderLevels: map[int64]int64{7: 12}})
	svc.WithNow(func() time.Time { return now })
	return svc, cache, ledger, stock
}

func TestTrialBalanceCachedUntilBump(t *testing.T) {
	svc, cache, ledger, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.TrialBalance(ctx, nil)
	require.NoError(t, err)
	require.True(t, first.Balanced())
	second, err := svc.TrialBalance(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), ledger.calls.Load())

	require.NoError(t, cache.Bump(ctx))
	_, err = svc.TrialBalance(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), ledger.calls.Load())

	asOf := now.Add(-time.Hour)
	tb, err := svc.TrialBalance(ctx, &asOf)
	require.NoError(t, err)
	require.NotNil(t, tb.AsOf)
	require.Equal(t, int32(3), ledger.calls.Load())
}

func TestStockChangeInvalidatesValuation(t *testing.T) {
	svc, cache, _, stock := newTestService(t)
	ctx := context.Background()

	v, err := svc.StockValuation(ctx, ValuationFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2900), v.Total)
	_, err = svc.StockValuation(ctx, ValuationFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, stock.calls)

	require.NoError(t, cache.HandleStockChanged(ctx, inventory.StockChangedEvent{ProductID: 7, WarehouseID: 1}))
	_, err = svc.StockValuation(ctx, ValuationFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, stock.calls)

	_, err = svc.StockValuation(ctx, ValuationFilter{ProductID: 7, WarehouseID: 1})
	require.NoError(t, err)
	require.Equal(t, 3, stock.calls)
	require.Equal(t, int64(7), stock.filters[2].ProductID)
}

func TestConcurrentBuildsCollapse(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProfitAndLoss(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ledger.calls.Load())
}

func TestExpiringLotsUsesDefaultWindow(t *testing.T) {
	svc, _, _, stock := newTestService(t)
	ctx := context.Background()

	rows, err := svc.ExpiringLots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, stock.filters[0].ExpiringBefore)
	require.Equal(t, "2025-03-31", stock.filters[0].ExpiringBefore.Format(time.DateOnly))

	_, err = svc.ExpiringLots(ctx, -1)
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestDashboard(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.True(t, d.TrialBalance.Balanced())
	require.Equal(t, int64(940), d.NetIncome)
	require.Equal(t, int64(2900), d.Valuation.Total)
	require.Len(t, d.Expiring, 2)
	require.Len(t, d.LowStock, 4)
	require.Equal(t, now, d.GeneratedAt)
}

func TestNilCacheStillServes(t *testing.T) {
	ledger := &fakeLedger{leaves: sampleLeaves()}
	svc := NewService(ledger, &fakeStock{}, nil, Config{})
	tb, err := svc.TrialBalance(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	_, err = svc.TrialBalance(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), ledger.calls.Load())
}

func TestFollowAdoptsPeerGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.Zero(t, gen)
	key, err := cache.Key(ctx, "tb", "now")
	require.NoError(t, err)
	require.Equal(t, "stockledger:reports:g0:tb:now", key)

	require.NoError(t, cache.Follow(ctx))
	require.NoError(t, client.Publish(ctx, invalidateChannel, "5").Err())
	require.Eventually(t, func() bool {
		gen, err := cache.Generation(ctx)
		return err == nil && gen == 5
	}, time.Second, 10*time.Millisecond)

	// stale announcements never lower the generation
	require.NoError(t, client.Publish(ctx, invalidateChannel, "2").Err())
	require.NoError(t, cache.Bump(ctx))
	require.Eventually(t, func() bool {
		gen, err := cache.Generation(ctx)
		return err == nil && gen == 6
	}, time.Second, 10*time.Millisecond)
}
