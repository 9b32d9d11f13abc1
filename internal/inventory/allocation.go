package inventory

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/lock"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// compareFEFO orders lots by expiry date (no expiry last), then receipt
// time, then id.
func compareFEFO(a, b Lot) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := dateOf(*a.ExpiryDate).Compare(dateOf(*b.ExpiryDate)); c != 0 {
			return c
		}
	}
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// pickFEFO takes quantity greedily from eligible lots. Nothing is picked
// unless the full quantity is covered.
func pickFEFO(lots []Lot, productID, warehouseID, qty int64, eligible func(Lot) bool) ([]ReservationLine, error) {
	candidates := make([]Lot, 0, len(lots))
	var available int64
	for _, l := range lots {
		if !eligible(l) {
			continue
		}
		candidates = append(candidates, l)
		sum, err := addQty(available, l.Available())
		if err != nil {
			return nil, err
		}
		available = sum
	}
	if available < qty {
		return nil, newInsufficient(productID, warehouseID, qty, available)
	}
	slices.SortFunc(candidates, compareFEFO)
	remaining := qty
	var lines []ReservationLine
	for _, l := range candidates {
		if remaining == 0 {
			break
		}
		take := min(l.Available(), remaining)
		lines = append(lines, ReservationLine{LotID: l.ID, Qty: take, UnitCost: l.UnitCost})
		remaining -= take
	}
	return lines, nil
}

func newAllocation(handle uuid.UUID, productID, warehouseID, qty int64, lines []ReservationLine) (Allocation, error) {
	var total int64
	for _, line := range lines {
		cost, err := mulQty(line.Qty, line.UnitCost)
		if err != nil {
			return Allocation{}, err
		}
		if total, err = addQty(total, cost); err != nil {
			return Allocation{}, err
		}
	}
	return Allocation{
		Handle:           handle,
		ProductID:        productID,
		WarehouseID:      warehouseID,
		Qty:              qty,
		Lines:            lines,
		TotalCost:        total,
		WeightedUnitCost: decimal.NewFromInt(total).DivRound(decimal.NewFromInt(qty), 4),
	}, nil
}

// Allocate reserves quantity from sellable lots in FEFO order. Expired and
// damaged lots are skipped.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (Allocation, error) {
	return s.allocate(ctx, in, AvailabilityOptions{})
}

// AllocateForScrap reserves quantity from any lot including expired and
// damaged ones.
func (s *Service) AllocateForScrap(ctx context.Context, in AllocateInput) (Allocation, error) {
	return s.allocate(ctx, in, AvailabilityOptions{IncludeExpired: true, IncludeDamaged: true})
}

func (s *Service) allocate(ctx context.Context, in AllocateInput, opts AvailabilityOptions) (Allocation, error) {
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return Allocation{}, ErrInvalidInput
	}
	if in.Qty <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}
	var alloc Allocation
	err := s.locker.WithLock(ctx, shared.StockLockKey(in.ProductID, in.WarehouseID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			lots, err := tx.LockLots(ctx, in.ProductID, in.WarehouseID)
			if err != nil {
				return err
			}
			lines, err := pickFEFO(lots, in.ProductID, in.WarehouseID, in.Qty, func(l Lot) bool {
				return s.eligible(l, now, opts)
			})
			if err != nil {
				return err
			}
			if alloc, err = newAllocation(uuid.New(), in.ProductID, in.WarehouseID, in.Qty, lines); err != nil {
				return err
			}
			byID := make(map[uuid.UUID]Lot, len(lots))
			for _, l := range lots {
				byID[l.ID] = l
			}
			for _, line := range lines {
				lot := byID[line.LotID]
				lot.Reserved += line.Qty
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
			}
			return tx.InsertReservation(ctx, Reservation{
				Handle:      alloc.Handle,
				ProductID:   in.ProductID,
				WarehouseID: in.WarehouseID,
				Qty:         in.Qty,
				Status:      ReservationActive,
				Lines:       lines,
				CreatedAt:   now,
			})
		})
	})
	if err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// GetReservation loads a reservation.
func (s *Service) GetReservation(ctx context.Context, handle uuid.UUID) (Reservation, error) {
	return s.repo.GetReservation(ctx, handle)
}

// Release frees the quantities held by a reservation. Releasing a closed
// reservation is a no-op.
func (s *Service) Release(ctx context.Context, handle uuid.UUID) error {
	_, err := s.release(ctx, handle)
	return err
}

func (s *Service) release(ctx context.Context, handle uuid.UUID) (bool, error) {
	res, err := s.repo.GetReservation(ctx, handle)
	if err != nil {
		return false, err
	}
	if res.Status != ReservationActive {
		return false, nil
	}
	released := false
	err = s.locker.WithLock(ctx, shared.StockLockKey(res.ProductID, res.WarehouseID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			res, err := tx.GetReservationForUpdate(ctx, handle)
			if err != nil {
				return err
			}
			if res.Status != ReservationActive {
				return nil
			}
			for _, line := range res.Lines {
				lot, err := tx.GetLotForUpdate(ctx, line.LotID)
				if err != nil {
					return err
				}
				lot.Reserved = max(lot.Reserved-line.Qty, 0)
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
			}
			released = true
			return tx.CloseReservation(ctx, handle, ReservationReleased, s.now())
		})
	})
	return released, err
}

// Commit consumes a reservation: on-hand and reserved quantities drop and a
// movement per lot is appended.
func (s *Service) Commit(ctx context.Context, handle uuid.UUID, opts CommitOptions) ([]StockMovement, error) {
	return s.CommitMany(ctx, []uuid.UUID{handle}, opts)
}

// CommitMany consumes several reservations in one transaction. Either all
// of them commit or none does.
func (s *Service) CommitMany(ctx context.Context, handles []uuid.UUID, opts CommitOptions) ([]StockMovement, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	reservations := make([]Reservation, 0, len(handles))
	keys := make([]string, 0, len(handles))
	for _, handle := range handles {
		res, err := s.repo.GetReservation(ctx, handle)
		if err != nil {
			return nil, err
		}
		if res.Status != ReservationActive {
			return nil, ErrReservationClosed
		}
		reservations = append(reservations, res)
		keys = append(keys, shared.StockLockKey(res.ProductID, res.WarehouseID))
	}
	typ := opts.Type
	if typ == "" {
		typ = MovementConsumption
	}
	var movements []StockMovement
	err := lock.WithAll(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			movements = movements[:0]
			for _, handle := range handles {
				res, err := tx.GetReservationForUpdate(ctx, handle)
				if err != nil {
					return err
				}
				if res.Status != ReservationActive {
					return ErrReservationClosed
				}
				for _, line := range res.Lines {
					lot, err := tx.GetLotForUpdate(ctx, line.LotID)
					if err != nil {
						return err
					}
					if lot.OnHand < line.Qty || lot.Reserved < line.Qty {
						return newInsufficient(lot.ProductID, lot.WarehouseID, line.Qty, min(lot.OnHand, lot.Reserved))
					}
					lot.OnHand -= line.Qty
					lot.Reserved -= line.Qty
					if err := tx.UpdateLot(ctx, lot); err != nil {
						return err
					}
					h := handle
					movements = append(movements, StockMovement{
						ID:             uuid.New(),
						LotID:          lot.ID,
						Delta:          -line.Qty,
						Type:           typ,
						JournalEntryID: opts.JournalEntryID,
						ReservationID:  &h,
						Reason:         opts.Reason,
						CreatedAt:      now,
					})
				}
				if err := tx.CloseReservation(ctx, handle, ReservationCommitted, now); err != nil {
					return err
				}
			}
			return tx.InsertMovements(ctx, movements)
		})
	})
	if err != nil {
		return nil, err
	}
	for _, res := range reservations {
		lotIDs := make([]uuid.UUID, 0, len(res.Lines))
		for _, line := range res.Lines {
			lotIDs = append(lotIDs, line.LotID)
		}
		s.emit(ctx, StockChangedEvent{ProductID: res.ProductID, WarehouseID: res.WarehouseID, Type: typ, Delta: -res.Qty, LotIDs: lotIDs})
	}
	return movements, nil
}

// SweepExpiredReservations releases active reservations older than ttl.
func (s *Service) SweepExpiredReservations(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.repo.ListStaleReservations(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, res := range stale {
		released, err := s.release(ctx, res.Handle)
		if err != nil {
			return count, err
		}
		if released {
			count++
		}
	}
	if count > 0 {
		s.record(ctx, shared.AuditLog{Action: "inventory:reservation_sweep", Entity: "reservations", EntityID: "stale", Meta: map[string]any{"released": count}})
	}
	return count, nil
}
