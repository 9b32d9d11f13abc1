package posting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
)

// Kind enumerates composite transaction kinds.
type Kind string

const (
	KindSalesInvoice    Kind = "SALES_INVOICE"
	KindPurchaseInvoice Kind = "PURCHASE_INVOICE"
	KindStockTransfer   Kind = "STOCK_TRANSFER"
	KindSalesReturn     Kind = "SALES_RETURN"
	KindPayment         Kind = "PAYMENT"
	KindWriteOff        Kind = "WRITE_OFF"
)

// Status enumerates composite outcomes.
type Status string

const (
	StatusCommitted   Status = "COMMITTED"
	StatusCompensated Status = "COMPENSATED"
)

// Settlement selects the counter account of an invoice.
type Settlement string

const (
	SettlementCredit Settlement = "credit"
	SettlementCash   Settlement = "cash"
)

// Condition classifies returned goods.
type Condition string

const (
	ConditionResalable Condition = "resalable"
	ConditionDamaged   Condition = "damaged"
)

// Direction of a payment.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionMade     Direction = "made"
)

// Line records what a composite did to one lot. Sales lines keep the
// consumed quantity per lot so returns can be checked against them.
type Line struct {
	ProductID   int64             `json:"productId,omitempty"`
	WarehouseID int64             `json:"warehouseId,omitempty"`
	LotID       uuid.UUID         `json:"lotId"`
	Qty         int64             `json:"qty"`
	UnitPrice   accounting.Amount `json:"unitPrice,omitempty"`
	UnitCost    int64             `json:"unitCost,omitempty"`
	Condition   Condition         `json:"condition,omitempty"`
	Settlement  Settlement        `json:"settlement,omitempty"`
}

// Composite is the persisted record of a cross-book operation.
type Composite struct {
	ID             uuid.UUID
	Kind           Kind
	Reference      string
	Status         Status
	JournalEntryID *uuid.UUID
	OriginID       *uuid.UUID
	IdempotencyKey string
	Lines          []Line
	MovementIDs    []uuid.UUID
	Failure        string
	CreatedAt      time.Time
}

// SalesLine is one invoiced product.
type SalesLine struct {
	ProductID   int64
	WarehouseID int64
	Qty         int64
	UnitPrice   accounting.Amount
}

// SalesInvoiceInput books revenue and consumes stock.
type SalesInvoiceInput struct {
	CustomerID     int64
	Reference      string
	Settlement     Settlement
	Lines          []SalesLine
	IdempotencyKey string
	ActorID        int64
}

// PurchaseLine is one received product.
type PurchaseLine struct {
	ProductID      int64
	WarehouseID    int64
	Qty            int64
	UnitCost       int64
	ProductionDate *time.Time
	ExpiryDate     *time.Time
}

// PurchaseInvoiceInput books inventory and receives lots.
type PurchaseInvoiceInput struct {
	SupplierID     int64
	Reference      string
	Settlement     Settlement
	Lines          []PurchaseLine
	IdempotencyKey string
	ActorID        int64
}

// TransferInput moves stock between warehouses.
type TransferInput struct {
	ProductID      int64
	FromWarehouse  int64
	ToWarehouse    int64
	Qty            int64
	Reference      string
	IdempotencyKey string
	ActorID        int64
}

// ReturnLine returns quantity of one sold lot. A zero UnitPrice uses the
// price of the original sale.
type ReturnLine struct {
	LotID     uuid.UUID
	Qty       int64
	UnitPrice accounting.Amount
	Condition Condition
}

// ReturnInput reverses part of a sales invoice.
type ReturnInput struct {
	SalesTransactionID uuid.UUID
	Reference          string
	Lines              []ReturnLine
	IdempotencyKey     string
	ActorID            int64
}

// PaymentInput settles receivables or payables.
type PaymentInput struct {
	Direction      Direction
	PartyID        int64
	Amount         accounting.Amount
	Reference      string
	IdempotencyKey string
	ActorID        int64
}

// WriteOffInput scraps stock including expired and damaged lots.
type WriteOffInput struct {
	ProductID      int64
	WarehouseID    int64
	Qty            int64
	Reason         string
	IdempotencyKey string
	ActorID        int64
}

var (
	// ErrInvalidInput indicates a malformed composite request.
	ErrInvalidInput = errors.New("posting: invalid input")
	// ErrPostingFailed indicates the journal rejected the entry.
	ErrPostingFailed = errors.New("posting: journal posting failed")
	// ErrCommitFailed indicates the stock side failed after the journal posted.
	ErrCommitFailed = errors.New("posting: commit failed")
	// ErrReturnExceedsSale indicates more returned than the sale consumed.
	ErrReturnExceedsSale = errors.New("posting: return exceeds sold quantity")
	// ErrCompositeNotFound indicates a missing composite.
	ErrCompositeNotFound = errors.New("posting: composite not found")
	// ErrInProgress indicates the idempotency key belongs to a request still running.
	ErrInProgress = errors.New("posting: request with this idempotency key in progress")
	// ErrClosed indicates the coordinator no longer accepts work.
	ErrClosed = errors.New("posting: coordinator closed")
)

// CommitError reports a composite that failed after its journal entry
// posted. Compensated tells whether the ledger and stock were restored.
type CommitError struct {
	Kind        Kind
	CompositeID uuid.UUID
	Compensated bool
	Cause       error
}

func (e *CommitError) Error() string {
	state := "compensated"
	if !e.Compensated {
		state = "compensation incomplete"
	}
	return fmt.Sprintf("posting: %s %s commit failed (%s): %v", e.Kind, e.CompositeID, state, e.Cause)
}

// Unwrap exposes the cause.
func (e *CommitError) Unwrap() error { return e.Cause }

// Is matches ErrCommitFailed.
func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

// Details exposes the composite in HTTP problem bodies.
func (e *CommitError) Details() map[string]any {
	return map[string]any{"compositeId": e.CompositeID, "kind": e.Kind, "compensated": e.Compensated}
}
