package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotStatus enumerates lot lifecycle values.
type LotStatus string

const (
	LotStatusActive   LotStatus = "ACTIVE"
	LotStatusExpired  LotStatus = "EXPIRED"
	LotStatusDepleted LotStatus = "DEPLETED"
)

// MovementType enumerates stock movement kinds.
type MovementType string

const (
	MovementReceipt     MovementType = "RECEIPT"
	MovementConsumption MovementType = "CONSUMPTION"
	MovementTransfer    MovementType = "TRANSFER"
	MovementAdjustment  MovementType = "ADJUSTMENT"
	MovementReturn      MovementType = "RETURN"
)

// ReservationStatus enumerates reservation lifecycle values.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Lot is a batch of one product in one warehouse sharing cost and dates.
type Lot struct {
	ID             uuid.UUID
	ProductID      int64
	WarehouseID    int64
	OnHand         int64
	Reserved       int64
	InitialQty     int64
	UnitCost       int64
	ProductionDate *time.Time
	ExpiryDate     *time.Time
	ReceivedAt     time.Time
	Damaged        bool
	SourceLotID    *uuid.UUID
}

// Available returns on-hand quantity not held by a reservation.
func (l Lot) Available() int64 { return l.OnHand - l.Reserved }

// Expired reports whether the lot's expiry date lies before the date of now.
func (l Lot) Expired(now time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return dateOf(now).After(dateOf(*l.ExpiryDate))
}

// Status derives the lot state at now.
func (l Lot) Status(now time.Time) LotStatus {
	switch {
	case l.OnHand == 0:
		return LotStatusDepleted
	case l.Expired(now):
		return LotStatusExpired
	default:
		return LotStatusActive
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StockMovement is an append-only change to a lot's on-hand quantity.
type StockMovement struct {
	ID             uuid.UUID
	LotID          uuid.UUID
	Delta          int64
	Type           MovementType
	JournalEntryID *uuid.UUID
	ReservationID  *uuid.UUID
	Reason         string
	CreatedAt      time.Time
}

// ReservationLine holds quantity of one lot.
type ReservationLine struct {
	LotID    uuid.UUID
	Qty      int64
	UnitCost int64
}

// Reservation is a persisted allocation handle.
type Reservation struct {
	Handle      uuid.UUID
	ProductID   int64
	WarehouseID int64
	Qty         int64
	Status      ReservationStatus
	Lines       []ReservationLine
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// Allocation is the result of a successful FEFO reservation.
type Allocation struct {
	Handle           uuid.UUID
	ProductID        int64
	WarehouseID      int64
	Qty              int64
	Lines            []ReservationLine
	TotalCost        int64
	WeightedUnitCost decimal.Decimal
}

// ReceiveInput describes a new lot.
type ReceiveInput struct {
	ProductID      int64
	WarehouseID    int64
	Qty            int64
	UnitCost       int64
	ProductionDate *time.Time
	ExpiryDate     *time.Time
	JournalEntryID *uuid.UUID
	Reference      string
	ActorID        int64
	Damaged        bool
	// Origin labels the opening movement. Zero means RECEIPT.
	Origin      MovementType
	SourceLotID *uuid.UUID
}

// AvailabilityOptions widens GetAvailable beyond sellable lots.
type AvailabilityOptions struct {
	IncludeExpired bool
	IncludeDamaged bool
}

// AdjustInput changes a lot's on-hand quantity.
type AdjustInput struct {
	LotID          uuid.UUID
	Delta          int64
	Reason         string
	JournalEntryID *uuid.UUID
	ActorID        int64
}

// AllocateInput requests a FEFO reservation.
type AllocateInput struct {
	ProductID   int64
	WarehouseID int64
	Qty         int64
}

// CommitOptions annotates consumption movements.
type CommitOptions struct {
	JournalEntryID *uuid.UUID
	// Type defaults to CONSUMPTION.
	Type   MovementType
	Reason string
}

// TransferInput moves quantity between warehouses.
type TransferInput struct {
	ProductID     int64
	FromWarehouse int64
	ToWarehouse   int64
	Qty           int64
	Reference     string
	ActorID       int64
}

// TransferResult reports the source consumption and the destination lots.
type TransferResult struct {
	Allocation Allocation
	Movements  []StockMovement
	Lots       []Lot
}

// RestockLine returns quantity to stock.
type RestockLine struct {
	LotID   uuid.UUID
	Qty     int64
	Damaged bool
}

// RestockInput applies a customer return.
type RestockInput struct {
	Lines          []RestockLine
	JournalEntryID *uuid.UUID
	Reason         string
	ActorID        int64
}

// LotFilter narrows ListLots.
type LotFilter struct {
	ProductID   int64
	WarehouseID int64
	// ExpiringBefore keeps lots whose expiry date is on or before the date.
	ExpiringBefore *time.Time
	IncludeEmpty   bool
}

// LotDrift reports a lot whose cached quantities disagree with the movement
// log or the active reservations.
type LotDrift struct {
	LotID            uuid.UUID
	OnHand           int64
	Replayed         int64
	Reserved         int64
	ReservedReplayed int64
}

var (
	// ErrInvalidQuantity indicates qty <= 0 or a zero adjustment.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidUnitCost indicates a negative cost.
	ErrInvalidUnitCost = errors.New("inventory: invalid unit cost")
	// ErrInvalidInput indicates missing product or warehouse.
	ErrInvalidInput = errors.New("inventory: product and warehouse required")
	// ErrInsufficientStock indicates not enough available quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrLotNotFound indicates a missing lot.
	ErrLotNotFound = errors.New("inventory: lot not found")
	// ErrReservationNotFound indicates a missing reservation.
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	// ErrReservationClosed indicates a commit of a non-active reservation.
	ErrReservationClosed = errors.New("inventory: reservation already closed")
	// ErrSameWarehouse indicates a transfer to the source warehouse.
	ErrSameWarehouse = errors.New("inventory: transfer source and destination are the same")
	// ErrQuantityOverflow indicates quantity or cost arithmetic overflowed.
	ErrQuantityOverflow = errors.New("inventory: quantity overflow")
)

// InsufficientStockError carries the shortfall of a failed allocation.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Requested   int64
	Available   int64
	Shortfall   int64
}

func newInsufficient(productID, warehouseID, requested, available int64) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Requested:   requested,
		Available:   available,
		Shortfall:   requested - available,
	}
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d in warehouse %d: requested %d, available %d",
		e.ProductID, e.WarehouseID, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Details exposes the shortfall in HTTP problem bodies.
func (e *InsufficientStockError) Details() map[string]any {
	return map[string]any{
		"productId":   e.ProductID,
		"warehouseId": e.WarehouseID,
		"requested":   e.Requested,
		"available":   e.Available,
		"shortfall":   e.Shortfall,
	}
}
