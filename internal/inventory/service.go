package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/lock"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates lot storage and allocation.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	locker      lock.Locker
	integration IntegrationHandler
	now         func() time.Time
}

// NewService builds Service. A nil locker falls back to an in-process one.
func NewService(repo RepositoryPort, audit AuditPort, locker lock.Locker, integration IntegrationHandler) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{repo: repo, audit: audit, locker: locker, integration: integration, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	_ = s.audit.Record(ctx, log)
}

func (s *Service) emit(ctx context.Context, evt StockChangedEvent) {
	if s.integration == nil {
		return
	}
	evt.At = s.now()
	_ = s.integration.HandleStockChanged(ctx, evt)
}

func addQty(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrQuantityOverflow
	}
	return a + b, nil
}

func mulQty(qty, unit int64) (int64, error) {
	if qty == 0 || unit == 0 {
		return 0, nil
	}
	p := qty * unit
	if p/qty != unit {
		return 0, ErrQuantityOverflow
	}
	return p, nil
}

func (in ReceiveInput) validate() error {
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return ErrInvalidInput
	}
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	if in.ProductionDate != nil && in.ExpiryDate != nil && in.ExpiryDate.Before(*in.ProductionDate) {
		return fmt.Errorf("%w: expiry before production date", ErrInvalidInput)
	}
	if _, err := mulQty(in.Qty, in.UnitCost); err != nil {
		return err
	}
	return nil
}

func (s *Service) receiveTx(ctx context.Context, tx TxRepository, in ReceiveInput, now time.Time) (Lot, StockMovement, error) {
	origin := in.Origin
	if origin == "" {
		origin = MovementReceipt
	}
	lot := Lot{
		ID:             uuid.New(),
		ProductID:      in.ProductID,
		WarehouseID:    in.WarehouseID,
		OnHand:         in.Qty,
		InitialQty:     in.Qty,
		UnitCost:       in.UnitCost,
		ProductionDate: in.ProductionDate,
		ExpiryDate:     in.ExpiryDate,
		ReceivedAt:     now,
		Damaged:        in.Damaged,
		SourceLotID:    in.SourceLotID,
	}
	if err := tx.InsertLot(ctx, lot); err != nil {
		return Lot{}, StockMovement{}, err
	}
	mv := StockMovement{
		ID:             uuid.New(),
		LotID:          lot.ID,
		Delta:          in.Qty,
		Type:           origin,
		JournalEntryID: in.JournalEntryID,
		Reason:         in.Reference,
		CreatedAt:      now,
	}
	if err := tx.InsertMovements(ctx, []StockMovement{mv}); err != nil {
		return Lot{}, StockMovement{}, err
	}
	return lot, mv, nil
}

// Receive creates a lot and its opening movement.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (Lot, error) {
	lots, _, err := s.ReceiveBatch(ctx, []ReceiveInput{in})
	if err != nil {
		return Lot{}, err
	}
	return lots[0], nil
}

// ReceiveBatch creates several lots in one transaction and returns them
// with their opening movements.
func (s *Service) ReceiveBatch(ctx context.Context, inputs []ReceiveInput) ([]Lot, []StockMovement, error) {
	if len(inputs) == 0 {
		return nil, nil, ErrInvalidQuantity
	}
	keys := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, nil, fmt.Errorf("inventory: line %d: %w", i, err)
		}
		keys = append(keys, shared.StockLockKey(in.ProductID, in.WarehouseID))
	}
	var lots []Lot
	var movements []StockMovement
	err := lock.WithAll(ctx, s.locker, keys, func(ctx context.Context) error {
		now := s.now()
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			lots, movements = lots[:0], movements[:0]
			for _, in := range inputs {
				lot, mv, err := s.receiveTx(ctx, tx, in, now)
				if err != nil {
					return err
				}
				lots = append(lots, lot)
				movements = append(movements, mv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	for i, lot := range lots {
		s.record(ctx, shared.AuditLog{
			ActorID:  inputs[i].ActorID,
			Action:   "inventory:receive",
			Entity:   "lot",
			EntityID: lot.ID.String(),
			Meta: map[string]any{
				"product_id":   lot.ProductID,
				"warehouse_id": lot.WarehouseID,
				"qty":          lot.InitialQty,
				"unit_cost":    lot.UnitCost,
				"reference":    inputs[i].Reference,
			},
		})
		s.emit(ctx, StockChangedEvent{ProductID: lot.ProductID, WarehouseID: lot.WarehouseID, Type: MovementReceipt, Delta: lot.InitialQty, LotIDs: []uuid.UUID{lot.ID}})
	}
	return lots, movements, nil
}

func (s *Service) eligible(l Lot, now time.Time, opts AvailabilityOptions) bool {
	if l.Available() <= 0 {
		return false
	}
	if l.Damaged && !opts.IncludeDamaged {
		return false
	}
	if l.Expired(now) && !opts.IncludeExpired {
		return false
	}
	return true
}

// GetAvailable returns lots with free quantity in FEFO order.
func (s *Service) GetAvailable(ctx context.Context, productID, warehouseID int64, opts AvailabilityOptions) ([]Lot, error) {
	if productID == 0 || warehouseID == 0 {
		return nil, ErrInvalidInput
	}
	lots, err := s.repo.ListLots(ctx, LotFilter{ProductID: productID, WarehouseID: warehouseID})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := lots[:0]
	for _, l := range lots {
		if s.eligible(l, now, opts) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, compareFEFO)
	return out, nil
}

// Adjust changes on-hand quantity of a lot by a signed delta.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (StockMovement, error) {
	if in.Delta == 0 {
		return StockMovement{}, ErrInvalidQuantity
	}
	current, err := s.repo.GetLot(ctx, in.LotID)
	if err != nil {
		return StockMovement{}, err
	}
	var mv StockMovement
	var lot Lot
	err = s.locker.WithLock(ctx, shared.StockLockKey(current.ProductID, current.WarehouseID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			lot, err = tx.GetLotForUpdate(ctx, in.LotID)
			if err != nil {
				return err
			}
			onHand, err := addQty(lot.OnHand, in.Delta)
			if err != nil {
				return err
			}
			if onHand < lot.Reserved {
				return newInsufficient(lot.ProductID, lot.WarehouseID, -in.Delta, lot.Available())
			}
			lot.OnHand = onHand
			if err := tx.UpdateLot(ctx, lot); err != nil {
				return err
			}
			mv = StockMovement{
				ID:             uuid.New(),
				LotID:          lot.ID,
				Delta:          in.Delta,
				Type:           MovementAdjustment,
				JournalEntryID: in.JournalEntryID,
				Reason:         in.Reason,
				CreatedAt:      s.now(),
			}
			return tx.InsertMovements(ctx, []StockMovement{mv})
		})
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "inventory:adjust",
		Entity:   "lot",
		EntityID: lot.ID.String(),
		Meta:     map[string]any{"delta": in.Delta, "reason": in.Reason},
	})
	s.emit(ctx, StockChangedEvent{ProductID: lot.ProductID, WarehouseID: lot.WarehouseID, Type: MovementAdjustment, Delta: in.Delta, LotIDs: []uuid.UUID{lot.ID}})
	return mv, nil
}

// GetLot loads a lot.
func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

// ListLots lists lots matching filter.
func (s *Service) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return s.repo.ListLots(ctx, filter)
}

// ListMovements returns the movement history of a lot.
func (s *Service) ListMovements(ctx context.Context, lotID uuid.UUID) ([]StockMovement, error) {
	if _, err := s.repo.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, lotID)
}

// Transfer moves quantity between warehouses. Source lots are consumed in
// FEFO order and each yields a destination lot with the same cost and dates.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.ProductID == 0 || in.FromWarehouse == 0 || in.ToWarehouse == 0 {
		return TransferResult{}, ErrInvalidInput
	}
	if in.FromWarehouse == in.ToWarehouse {
		return TransferResult{}, ErrSameWarehouse
	}
	if in.Qty <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	keys := []string{
		shared.StockLockKey(in.ProductID, in.FromWarehouse),
		shared.StockLockKey(in.ProductID, in.ToWarehouse),
	}
	var result TransferResult
	err := lock.WithAll(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			result = TransferResult{}
			lots, err := tx.LockLots(ctx, in.ProductID, in.FromWarehouse)
			if err != nil {
				return err
			}
			lines, err := pickFEFO(lots, in.ProductID, in.FromWarehouse, in.Qty, func(l Lot) bool {
				return s.eligible(l, now, AvailabilityOptions{})
			})
			if err != nil {
				return err
			}
			alloc, err := newAllocation(uuid.Nil, in.ProductID, in.FromWarehouse, in.Qty, lines)
			if err != nil {
				return err
			}
			result.Allocation = alloc
			byID := make(map[uuid.UUID]Lot, len(lots))
			for _, l := range lots {
				byID[l.ID] = l
			}
			for _, line := range lines {
				src := byID[line.LotID]
				src.OnHand -= line.Qty
				if err := tx.UpdateLot(ctx, src); err != nil {
					return err
				}
				out := StockMovement{ID: uuid.New(), LotID: src.ID, Delta: -line.Qty, Type: MovementTransfer, Reason: in.Reference, CreatedAt: now}
				if err := tx.InsertMovements(ctx, []StockMovement{out}); err != nil {
					return err
				}
				srcID := src.ID
				dst, dstMv, err := s.receiveTx(ctx, tx, ReceiveInput{
					ProductID:      in.ProductID,
					WarehouseID:    in.ToWarehouse,
					Qty:            line.Qty,
					UnitCost:       src.UnitCost,
					ProductionDate: src.ProductionDate,
					ExpiryDate:     src.ExpiryDate,
					Reference:      in.Reference,
					Origin:         MovementTransfer,
					SourceLotID:    &srcID,
				}, now)
				if err != nil {
					return err
				}
				result.Movements = append(result.Movements, out, dstMv)
				result.Lots = append(result.Lots, dst)
			}
			return nil
		})
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "inventory:transfer",
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", in.ProductID),
		Meta:     map[string]any{"from": in.FromWarehouse, "to": in.ToWarehouse, "qty": in.Qty, "reference": in.Reference},
	})
	srcIDs := make([]uuid.UUID, 0, len(result.Allocation.Lines))
	for _, line := range result.Allocation.Lines {
		srcIDs = append(srcIDs, line.LotID)
	}
	dstIDs := make([]uuid.UUID, 0, len(result.Lots))
	for _, l := range result.Lots {
		dstIDs = append(dstIDs, l.ID)
	}
	s.emit(ctx, StockChangedEvent{ProductID: in.ProductID, WarehouseID: in.FromWarehouse, Type: MovementTransfer, Delta: -in.Qty, LotIDs: srcIDs})
	s.emit(ctx, StockChangedEvent{ProductID: in.ProductID, WarehouseID: in.ToWarehouse, Type: MovementTransfer, Delta: in.Qty, LotIDs: dstIDs})
	return result, nil
}

// Restock returns quantity to stock. Resalable quantity goes back to the
// original lot; damaged quantity opens a new damaged lot.
func (s *Service) Restock(ctx context.Context, in RestockInput) ([]StockMovement, []Lot, error) {
	if len(in.Lines) == 0 {
		return nil, nil, ErrInvalidQuantity
	}
	keys := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if line.Qty <= 0 {
			return nil, nil, ErrInvalidQuantity
		}
		lot, err := s.repo.GetLot(ctx, line.LotID)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, shared.StockLockKey(lot.ProductID, lot.WarehouseID))
	}
	var movements []StockMovement
	var lots []Lot
	err := lock.WithAll(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			movements, lots = nil, nil
			for _, line := range in.Lines {
				lot, err := tx.GetLotForUpdate(ctx, line.LotID)
				if err != nil {
					return err
				}
				if line.Damaged {
					srcID := lot.ID
					dmg, mv, err := s.receiveTx(ctx, tx, ReceiveInput{
						ProductID:      lot.ProductID,
						WarehouseID:    lot.WarehouseID,
						Qty:            line.Qty,
						UnitCost:       lot.UnitCost,
						ProductionDate: lot.ProductionDate,
						ExpiryDate:     lot.ExpiryDate,
						JournalEntryID: in.JournalEntryID,
						Reference:      in.Reason,
						Damaged:        true,
						Origin:         MovementReturn,
						SourceLotID:    &srcID,
					}, now)
					if err != nil {
						return err
					}
					movements = append(movements, mv)
					lots = append(lots, dmg)
					continue
				}
				if lot.OnHand, err = addQty(lot.OnHand, line.Qty); err != nil {
					return err
				}
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
				mv := StockMovement{
					ID:             uuid.New(),
					LotID:          lot.ID,
					Delta:          line.Qty,
					Type:           MovementReturn,
					JournalEntryID: in.JournalEntryID,
					Reason:         in.Reason,
					CreatedAt:      now,
				}
				if err := tx.InsertMovements(ctx, []StockMovement{mv}); err != nil {
					return err
				}
				movements = append(movements, mv)
				lots = append(lots, lot)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	for i, mv := range movements {
		lot := lots[i]
		s.record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "inventory:return",
			Entity:   "lot",
			EntityID: lot.ID.String(),
			Meta:     map[string]any{"qty": mv.Delta, "damaged": lot.Damaged, "reason": in.Reason},
		})
		s.emit(ctx, StockChangedEvent{ProductID: lot.ProductID, WarehouseID: lot.WarehouseID, Type: MovementReturn, Delta: mv.Delta, LotIDs: []uuid.UUID{lot.ID}})
	}
	return movements, lots, nil
}

// Verify replays the movement log and the active reservations and reports
// every lot whose cached quantities disagree. The opening receipt is logged
// as a movement of InitialQty, so the full replay must equal OnHand and the
// later movements alone net to OnHand - InitialQty.
func (s *Service) Verify(ctx context.Context) ([]LotDrift, error) {
	lots, err := s.repo.ListLots(ctx, LotFilter{IncludeEmpty: true})
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.MovementSums(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := s.repo.ActiveReservedSums(ctx)
	if err != nil {
		return nil, err
	}
	var drift []LotDrift
	for _, l := range lots {
		if sums[l.ID] != l.OnHand || reserved[l.ID] != l.Reserved {
			drift = append(drift, LotDrift{
				LotID:            l.ID,
				OnHand:           l.OnHand,
				Replayed:         sums[l.ID],
				Reserved:         l.Reserved,
				ReservedReplayed: reserved[l.ID],
			})
		}
	}
	return drift, nil
}

// Rebuild overwrites drifted lot quantities with the replayed values.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	drift, err := s.Verify(ctx)
	if err != nil || len(drift) == 0 {
		return 0, err
	}
	keys := make([]string, 0, len(drift))
	for _, d := range drift {
		lot, err := s.repo.GetLot(ctx, d.LotID)
		if err != nil {
			return 0, err
		}
		keys = append(keys, shared.StockLockKey(lot.ProductID, lot.WarehouseID))
	}
	fixed := 0
	err = lock.WithAll(ctx, s.locker, keys, func(ctx context.Context) error {
		// replay again under the locks so nothing moved in between
		current, err := s.Verify(ctx)
		if err != nil {
			return err
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			fixed = 0
			for _, d := range current {
				lot, err := tx.GetLotForUpdate(ctx, d.LotID)
				if err != nil {
					return err
				}
				if d.Replayed < 0 || d.ReservedReplayed > d.Replayed {
					return fmt.Errorf("inventory: lot %s replays to on_hand %d reserved %d", d.LotID, d.Replayed, d.ReservedReplayed)
				}
				lot.OnHand, lot.Reserved = d.Replayed, d.ReservedReplayed
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
				fixed++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.record(ctx, shared.AuditLog{Action: "inventory:rebuild", Entity: "lots", EntityID: "all", Meta: map[string]any{"fixed": fixed}})
	return fixed, nil
}

// IsBusinessError reports whether err is a validation or stock condition
// rather than an infrastructure failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity, ErrInvalidUnitCost, ErrInvalidInput, ErrInsufficientStock,
		ErrLotNotFound, ErrReservationNotFound, ErrReservationClosed, ErrSameWarehouse, ErrQuantityOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
