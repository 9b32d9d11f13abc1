package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

type recordingIntegration struct {
	mu     sync.Mutex
	events []StockChangedEvent
}

func (r *recordingIntegration) HandleStockChanged(_ context.Context, evt StockChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	audit  *recordingAudit
	events *recordingIntegration
	clock  *clock
}

const (
	product   int64 = 7
	warehouse int64 = 1
	branch    int64 = 2
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		audit:  &recordingAudit{},
		events: &recordingIntegration{},
		clock:  &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.repo, f.audit, nil, f.events)
	f.svc.WithNow(f.clock.Now)
	return f
}

func day(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func (f *fixture) receive(t *testing.T, qty, cost int64, expiry *time.Time) Lot {
	t.Helper()
	lot, err := f.svc.Receive(context.Background(), ReceiveInput{
		ProductID: product, WarehouseID: warehouse, Qty: qty, UnitCost: cost, ExpiryDate: expiry, Reference: "GRN",
	})
	require.NoError(t, err)
	// distinct receipt instants keep FEFO tie-breaks deterministic
	f.clock.Advance(time.Minute)
	return lot
}

func (f *fixture) lot(t *testing.T, id uuid.UUID) Lot {
	t.Helper()
	lot, err := f.svc.GetLot(context.Background(), id)
	require.NoError(t, err)
	return lot
}

func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	drift, err := f.svc.Verify(context.Background())
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestReceiveValidation(t *testing.T) {
	cases := []struct {
		name string
		in   ReceiveInput
		want error
	}{
		{"zero qty", ReceiveInput{ProductID: product, WarehouseID: warehouse, Qty: 0}, ErrInvalidQuantity},
		{"negative qty", ReceiveInput{ProductID: product, WarehouseID: warehouse, Qty: -3}, ErrInvalidQuantity},
		{"negative cost", ReceiveInput{ProductID: product, WarehouseID: warehouse, Qty: 1, UnitCost: -1}, ErrInvalidUnitCost},
		{"missing product", ReceiveInput{WarehouseID: warehouse, Qty: 1}, ErrInvalidInput},
		{"expiry before production", ReceiveInput{ProductID: product, WarehouseID: warehouse, Qty: 1, ProductionDate: day("2025-05-01"), ExpiryDate: day("2025-04-01")}, ErrInvalidInput},
		{"cost overflow", ReceiveInput{ProductID: product, WarehouseID: warehouse, Qty: 1 << 40, UnitCost: 1 << 40}, ErrQuantityOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Receive(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReceiveWritesOpeningMovement(t *testing.T) {
	f := newFixture(t)
	lot := f.receive(t, 12, 150, day("2025-06-30"))

	require.Equal(t, int64(12), lot.OnHand)
	require.Equal(t, int64(12), lot.InitialQty)
	require.Equal(t, LotStatusActive, lot.Status(f.clock.Now()))

	mvs, err := f.svc.ListMovements(context.Background(), lot.ID)
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	require.Equal(t, MovementReceipt, mvs[0].Type)
	require.Equal(t, int64(12), mvs[0].Delta)

	require.Len(t, f.events.events, 1)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "inventory:receive", f.audit.logs[0].Action)
}

func TestReceiveBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ReceiveBatch(context.Background(), []ReceiveInput{
		{ProductID: product, WarehouseID: warehouse, Qty: 5, UnitCost: 10},
		{ProductID: product, WarehouseID: branch, Qty: 0, UnitCost: 10},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	lots, err := f.svc.ListLots(context.Background(), LotFilter{ProductID: product, IncludeEmpty: true})
	require.NoError(t, err)
	require.Empty(t, lots)

	created, movements, err := f.svc.ReceiveBatch(context.Background(), []ReceiveInput{
		{ProductID: product, WarehouseID: warehouse, Qty: 5, UnitCost: 10},
		{ProductID: product, WarehouseID: branch, Qty: 3, UnitCost: 12},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Len(t, movements, 2)
	require.Equal(t, created[1].ID, movements[1].LotID)
	f.requireConsistent(t)
}

func TestGetAvailableOrdersFEFO(t *testing.T) {
	f := newFixture(t)
	noExpiry := f.receive(t, 5, 10, nil)
	late := f.receive(t, 5, 10, day("2025-09-01"))
	early := f.receive(t, 5, 10, day("2025-04-01"))
	earlySecond := f.receive(t, 5, 10, day("2025-04-01"))
	expired := f.receive(t, 5, 10, day("2025-02-01"))

	lots, err := f.svc.GetAvailable(context.Background(), product, warehouse, AvailabilityOptions{})
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}
	require.Equal(t, []uuid.UUID{early.ID, earlySecond.ID, late.ID, noExpiry.ID}, ids)

	withExpired, err := f.svc.GetAvailable(context.Background(), product, warehouse, AvailabilityOptions{IncludeExpired: true})
	require.NoError(t, err)
	require.Len(t, withExpired, 5)
	require.Equal(t, expired.ID, withExpired[0].ID)
}

func TestLotExpiresAfterItsExpiryDate(t *testing.T) {
	expiry := day("2025-03-01")
	lot := Lot{OnHand: 1, ExpiryDate: expiry}
	require.False(t, lot.Expired(time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)))
	require.True(t, lot.Expired(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, LotStatusExpired, lot.Status(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))
	lot.OnHand = 0
	require.Equal(t, LotStatusDepleted, lot.Status(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	lot := f.receive(t, 10, 100, nil)
	ctx := context.Background()

	_, err := f.svc.Adjust(ctx, AdjustInput{LotID: lot.ID, Delta: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.Adjust(ctx, AdjustInput{LotID: uuid.New(), Delta: 1})
	require.ErrorIs(t, err, ErrLotNotFound)

	mv, err := f.svc.Adjust(ctx, AdjustInput{LotID: lot.ID, Delta: -4, Reason: "count"})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, mv.Type)
	require.Equal(t, int64(6), f.lot(t, lot.ID).OnHand)

	_, err = f.svc.Allocate(ctx, AllocateInput{ProductID: product, WarehouseID: warehouse, Qty: 5})
	require.NoError(t, err)

	_, err = f.svc.Adjust(ctx, AdjustInput{LotID: lot.ID, Delta: -2, Reason: "breakage"})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(1), short.Available)
	require.Equal(t, int64(6), f.lot(t, lot.ID).OnHand)

	f.requireConsistent(t)
}

func TestMovementsAfterOpeningNetToOnHandChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.receive(t, 10, 100, day("2025-06-30"))

	_, err := f.svc.Adjust(ctx, AdjustInput{LotID: lot.ID, Delta: -4, Reason: "count"})
	require.NoError(t, err)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{ProductID: product, WarehouseID: warehouse, Qty: 3})
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, alloc.Handle, CommitOptions{Reason: "INV-9"})
	require.NoError(t, err)
	_, err = f.svc.Adjust(ctx, AdjustInput{LotID: lot.ID, Delta: 2, Reason: "found"})
	require.NoError(t, err)

	current := f.lot(t, lot.ID)
	mvs, err := f.svc.ListMovements(ctx, lot.ID)
	require.NoError(t, err)
	var opening, later int64
	for _, mv := range mvs {
		if mv.Type == MovementReceipt {
			opening += mv.Delta
			continue
		}
		later += mv.Delta
	}
	require.Equal(t, current.InitialQty, opening)
	require.Equal(t, current.OnHand-current.InitialQty, later)
	require.Equal(t, int64(5), current.OnHand)
	f.requireConsistent(t)
}

func TestTransferCopiesLotAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.receive(t, 4, 100, day("2025-04-01"))
	second := f.receive(t, 10, 120, day("2025-05-01"))

	_, err := f.svc.Transfer(ctx, TransferInput{ProductID: product, FromWarehouse: warehouse, ToWarehouse: warehouse, Qty: 1})
	require.ErrorIs(t, err, ErrSameWarehouse)

	res, err := f.svc.Transfer(ctx, TransferInput{ProductID: product, FromWarehouse: warehouse, ToWarehouse: branch, Qty: 6, Reference: "TRF-1"})
	require.NoError(t, err)
	require.Len(t, res.Lots, 2)
	require.Len(t, res.Movements, 4)
	require.Equal(t, int64(4*100+2*120), res.Allocation.TotalCost)

	require.Equal(t, int64(0), f.lot(t, first.ID).OnHand)
	require.Equal(t, int64(8), f.lot(t, second.ID).OnHand)

	dst := res.Lots[0]
	require.Equal(t, branch, dst.WarehouseID)
	require.Equal(t, int64(4), dst.InitialQty)
	require.Equal(t, int64(100), dst.UnitCost)
	require.Equal(t, first.ExpiryDate, dst.ExpiryDate)
	require.Equal(t, first.ID, *dst.SourceLotID)

	_, err = f.svc.Transfer(ctx, TransferInput{ProductID: product, FromWarehouse: warehouse, ToWarehouse: branch, Qty: 9})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(8), f.lot(t, second.ID).OnHand)

	f.requireConsistent(t)
}

func TestRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.receive(t, 5, 100, nil)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{ProductID: product, WarehouseID: warehouse, Qty: 5})
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, alloc.Handle, CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, LotStatusDepleted, f.lot(t, lot.ID).Status(f.clock.Now()))

	mvs, lots, err := f.svc.Restock(ctx, RestockInput{
		Lines:  []RestockLine{{LotID: lot.ID, Qty: 2}, {LotID: lot.ID, Qty: 1, Damaged: true}},
		Reason: "RMA-1",
	})
	require.NoError(t, err)
	require.Len(t, mvs, 2)
	require.Equal(t, MovementReturn, mvs[0].Type)
	require.Equal(t, int64(2), f.lot(t, lot.ID).OnHand)
	require.Equal(t, LotStatusActive, f.lot(t, lot.ID).Status(f.clock.Now()))
	require.True(t, lots[1].Damaged)
	require.Equal(t, lot.ID, *lots[1].SourceLotID)

	available, err := f.svc.GetAvailable(ctx, product, warehouse, AvailabilityOptions{})
	require.NoError(t, err)
	require.Len(t, available, 1)

	_, err = f.svc.Allocate(ctx, AllocateInput{ProductID: product, WarehouseID: warehouse, Qty: 3})
	require.ErrorIs(t, err, ErrInsufficientStock)

	f.requireConsistent(t)
}

func TestVerifyAndRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.receive(t, 10, 100, nil)
	_, err := f.svc.Allocate(ctx, AllocateInput{ProductID: product, WarehouseID: warehouse, Qty: 3})
	require.NoError(t, err)
	f.requireConsistent(t)

	require.NoError(t, f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.GetLotForUpdate(ctx, lot.ID)
		if err != nil {
			return err
		}
		l.OnHand, l.Reserved = 42, 0
		return tx.UpdateLot(ctx, l)
	}))

	drift, err := f.svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.Equal(t, int64(42), drift[0].OnHand)
	require.Equal(t, int64(10), drift[0].Replayed)
	require.Equal(t, int64(3), drift[0].ReservedReplayed)

	fixed, err := f.svc.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fixed)
	require.Equal(t, int64(10), f.lot(t, lot.ID).OnHand)
	require.Equal(t, int64(3), f.lot(t, lot.ID).Reserved)
	f.requireConsistent(t)
}

func TestMemoryTxRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.receive(t, 10, 100, nil)
	boom := errors.New("boom")
	err := f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.GetLotForUpdate(ctx, lot.ID)
		if err != nil {
			return err
		}
		l.OnHand = 1
		if err := tx.UpdateLot(ctx, l); err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, []StockMovement{{ID: uuid.New(), LotID: lot.ID, Delta: -9}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(10), f.lot(t, lot.ID).OnHand)
	f.requireConsistent(t)
}
