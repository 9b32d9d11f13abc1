package inventory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps lots, movements and reservations in process memory.
// Transactions are serialized by one mutex and undone on error.
type MemoryRepository struct {
	mu           sync.Mutex
	lots         map[uuid.UUID]Lot
	movements    []StockMovement
	reservations map[uuid.UUID]Reservation
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		lots:         make(map[uuid.UUID]Lot),
		reservations: make(map[uuid.UUID]Reservation),
	}
}

type memoryTx struct {
	repo *MemoryRepository
	undo []func()
}

// WithTx runs fn under the store lock and rolls back on error.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// GetLot loads a lot.
func (m *MemoryRepository) GetLot(_ context.Context, id uuid.UUID) (Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return Lot{}, ErrLotNotFound
	}
	return l, nil
}

// ListLots returns lots matching filter in FEFO order.
func (m *MemoryRepository) ListLots(_ context.Context, filter LotFilter) ([]Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lot
	for _, l := range m.lots {
		if filter.ProductID != 0 && l.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && l.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.ExpiringBefore != nil && (l.ExpiryDate == nil || dateOf(*l.ExpiryDate).After(dateOf(*filter.ExpiringBefore))) {
			continue
		}
		if !filter.IncludeEmpty && l.OnHand == 0 {
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, compareFEFO)
	return out, nil
}

// ListMovements returns the movement log of a lot in order.
func (m *MemoryRepository) ListMovements(_ context.Context, lotID uuid.UUID) ([]StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StockMovement
	for _, mv := range m.movements {
		if mv.LotID == lotID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func cloneReservation(r Reservation) Reservation {
	r.Lines = slices.Clone(r.Lines)
	return r
}

// GetReservation loads a reservation with its lines.
func (m *MemoryRepository) GetReservation(_ context.Context, handle uuid.UUID) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[handle]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return cloneReservation(r), nil
}

// ListStaleReservations returns ACTIVE reservations created before the cutoff.
func (m *MemoryRepository) ListStaleReservations(_ context.Context, before time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.Status == ReservationActive && r.CreatedAt.Before(before) {
			out = append(out, cloneReservation(r))
		}
	}
	slices.SortFunc(out, func(a, b Reservation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// MovementSums returns Σ delta per lot.
func (m *MemoryRepository) MovementSums(context.Context) (map[uuid.UUID]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]int64)
	for _, mv := range m.movements {
		out[mv.LotID] += mv.Delta
	}
	return out, nil
}

// ActiveReservedSums returns Σ reserved qty per lot over ACTIVE reservations.
func (m *MemoryRepository) ActiveReservedSums(context.Context) (map[uuid.UUID]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]int64)
	for _, r := range m.reservations {
		if r.Status != ReservationActive {
			continue
		}
		for _, line := range r.Lines {
			out[line.LotID] += line.Qty
		}
	}
	return out, nil
}

func (t *memoryTx) InsertLot(_ context.Context, l Lot) error {
	m := t.repo
	m.lots[l.ID] = l
	t.undo = append(t.undo, func() { delete(m.lots, l.ID) })
	return nil
}

func (t *memoryTx) GetLotForUpdate(_ context.Context, id uuid.UUID) (Lot, error) {
	l, ok := t.repo.lots[id]
	if !ok {
		return Lot{}, ErrLotNotFound
	}
	return l, nil
}

func (t *memoryTx) LockLots(_ context.Context, productID, warehouseID int64) ([]Lot, error) {
	var out []Lot
	for _, l := range t.repo.lots {
		if l.ProductID == productID && l.WarehouseID == warehouseID && l.OnHand > 0 {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Lot) int { return slices.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

func (t *memoryTx) UpdateLot(_ context.Context, l Lot) error {
	m := t.repo
	old, ok := m.lots[l.ID]
	if !ok {
		return ErrLotNotFound
	}
	next := old
	next.OnHand, next.Reserved = l.OnHand, l.Reserved
	m.lots[l.ID] = next
	t.undo = append(t.undo, func() { m.lots[l.ID] = old })
	return nil
}

func (t *memoryTx) InsertMovements(_ context.Context, movements []StockMovement) error {
	m := t.repo
	n := len(m.movements)
	m.movements = append(m.movements, movements...)
	t.undo = append(t.undo, func() { m.movements = m.movements[:n] })
	return nil
}

func (t *memoryTx) InsertReservation(_ context.Context, r Reservation) error {
	m := t.repo
	m.reservations[r.Handle] = cloneReservation(r)
	t.undo = append(t.undo, func() { delete(m.reservations, r.Handle) })
	return nil
}

func (t *memoryTx) GetReservationForUpdate(_ context.Context, handle uuid.UUID) (Reservation, error) {
	r, ok := t.repo.reservations[handle]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return cloneReservation(r), nil
}

func (t *memoryTx) CloseReservation(_ context.Context, handle uuid.UUID, status ReservationStatus, at time.Time) error {
	m := t.repo
	r, ok := m.reservations[handle]
	if !ok {
		return ErrReservationNotFound
	}
	old := r
	r.Status = status
	closed := at
	r.ClosedAt = &closed
	m.reservations[handle] = r
	t.undo = append(t.undo, func() { m.reservations[handle] = old })
	return nil
}
