package posting

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ErrorRules maps composite errors to HTTP responses. Ledger and inventory
// rules follow so wrapped causes keep their codes.
var ErrorRules = slices.Concat([]httpx.Rule{
	{Target: ErrPostingFailed, Status: http.StatusUnprocessableEntity, Code: "POSTING_FAILED"},
	{Target: ErrCommitFailed, Status: http.StatusServiceUnavailable, Code: "COMMIT_FAILED"},
	{Target: ErrReturnExceedsSale, Status: http.StatusUnprocessableEntity, Code: "RETURN_EXCEEDS_SALE"},
	{Target: ErrCompositeNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Target: ErrInProgress, Status: http.StatusConflict, Code: "CONFLICT"},
	{Target: ErrClosed, Status: http.StatusServiceUnavailable, Code: "UNAVAILABLE"},
	{Target: ErrInvalidInput, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
}, inventory.ErrorRules, accounting.ErrorRules)

// Handler wires composite endpoints.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	decoder     *httpx.Decoder
	currency    shared.Currency
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, coordinator *Coordinator, decoder *httpx.Decoder, currency shared.Currency) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, decoder: decoder, currency: currency}
}

// MountRoutes registers HTTP routes for composite operations.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/sales", h.salesInvoice)
	r.Post("/invoices/purchase", h.purchaseInvoice)
	r.Post("/stock/transfers", h.transfer)
	r.Post("/stock/write-offs", h.writeOff)
	r.Post("/returns/sales", h.salesReturn)
	r.Post("/payments", h.payment)
	r.Get("/composites/{id}", h.getComposite)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := httpx.Classify(err, ErrorRules...)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "composite request failed",
			slog.String("path", r.URL.Path), slog.String("code", code), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

type compositeResponse struct {
	ID             uuid.UUID   `json:"id"`
	Kind           Kind        `json:"kind"`
	Reference      string      `json:"reference"`
	Status         Status      `json:"status"`
	JournalEntryID *uuid.UUID  `json:"journalEntryId,omitempty"`
	OriginID       *uuid.UUID  `json:"originId,omitempty"`
	Lines          []Line      `json:"lines"`
	MovementIDs    []uuid.UUID `json:"movementIds"`
	Failure        string      `json:"failure,omitempty"`
	CreatedAt      string      `json:"createdAt"`
}

func toCompositeResponse(c Composite) compositeResponse {
	return compositeResponse{
		ID: c.ID, Kind: c.Kind, Reference: c.Reference, Status: c.Status,
		JournalEntryID: c.JournalEntryID, OriginID: c.OriginID, Lines: c.Lines,
		MovementIDs: c.MovementIDs, Failure: c.Failure, CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, c Composite, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCompositeResponse(c))
}

type salesLineRequest struct {
	ProductID   int64 `json:"productId" validate:"required,gt=0"`
	WarehouseID int64 `json:"warehouseId" validate:"required,gt=0"`
	Qty         int64 `json:"qty" validate:"required,gt=0"`
	UnitPrice   int64 `json:"unitPrice" validate:"gte=0"`
}

type salesInvoiceRequest struct {
	CustomerID int64              `json:"customerId" validate:"required,gt=0"`
	Reference  string             `json:"reference" validate:"required,max=120"`
	Settlement string             `json:"settlement" validate:"omitempty,oneof=credit cash"`
	Lines      []salesLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) salesInvoice(w http.ResponseWriter, r *http.Request) {
	var req salesInvoiceRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]SalesLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = SalesLine{ProductID: l.ProductID, WarehouseID: l.WarehouseID, Qty: l.Qty, UnitPrice: accounting.Amount(l.UnitPrice)}
	}
	c, err := h.coordinator.PostSalesInvoice(r.Context(), SalesInvoiceInput{
		CustomerID:     req.CustomerID,
		Reference:      req.Reference,
		Settlement:     Settlement(req.Settlement),
		Lines:          lines,
		IdempotencyKey: idempotencyKey(r),
		ActorID:        httpx.ActorID(r),
	})
	h.respond(w, r, c, err)
}

type purchaseLineRequest struct {
	ProductID      int64  `json:"productId" validate:"required,gt=0"`
	WarehouseID    int64  `json:"warehouseId" validate:"required,gt=0"`
	Qty            int64  `json:"qty" validate:"required,gt=0"`
	UnitCost       int64  `json:"unitCost" validate:"gte=0"`
	ProductionDate string `json:"productionDate" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate     string `json:"expiryDate" validate:"omitempty,datetime=2006-01-02"`
}

type purchaseInvoiceRequest struct {
	SupplierID int64                 `json:"supplierId" validate:"required,gt=0"`
	Reference  string                `json:"reference" validate:"required,max=120"`
	Settlement string                `json:"settlement" validate:"omitempty,oneof=credit cash"`
	Lines      []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) purchaseInvoice(w http.ResponseWriter, r *http.Request) {
	var req purchaseInvoiceRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]PurchaseLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = PurchaseLine{
			ProductID:      l.ProductID,
			WarehouseID:    l.WarehouseID,
			Qty:            l.Qty,
			UnitCost:       l.UnitCost,
			ProductionDate: inventory.ParseDate(l.ProductionDate),
			ExpiryDate:     inventory.ParseDate(l.ExpiryDate),
		}
	}
	c, err := h.coordinator.PostPurchaseInvoice(r.Context(), PurchaseInvoiceInput{
		SupplierID:     req.SupplierID,
		Reference:      req.Reference,
		Settlement:     Settlement(req.Settlement),
		Lines:          lines,
		IdempotencyKey: idempotencyKey(r),
		ActorID:        httpx.ActorID(r),
	})
	h.respond(w, r, c, err)
}

type transferRequest struct {
	ProductID     int64  `json:"productId" validate:"required,gt=0"`
	FromWarehouse int64  `json:"fromWarehouse" validate:"required,gt=0"`
	ToWarehouse   int64  `json:"toWarehouse" validate:"required,gt=0,nefield=FromWarehouse"`
	Qty           int64  `json:"qty" validate:"required,gt=0"`
	Reference     string `json:"reference" validate:"max=120"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.coordinator.TransferStock(r.Context(), TransferInput{
		ProductID:      req.ProductID,
		FromWarehouse:  req.FromWarehouse,
		ToWarehouse:    req.ToWarehouse,
		Qty:            req.Qty,
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey(r),
		ActorID:        httpx.ActorID(r),
	})
	h.respond(w, r, c, err)
}

type returnLineRequest struct {
	LotID     string `json:"lotId" validate:"required,uuid"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
	Condition string `json:"condition" validate:"omitempty,oneof=resalable damaged"`
}

type returnRequest struct {
	SalesTransactionID string              `json:"salesTransactionId" validate:"required,uuid"`
	Reference          string              `json:"reference" validate:"required,max=120"`
	Lines              []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) salesReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	saleID, err := httpx.PathUUID(req.SalesTransactionID, "salesTransactionId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]ReturnLine, len(req.Lines))
	for i, l := range req.Lines {
		lotID, err := httpx.PathUUID(l.LotID, "lotId")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		lines[i] = ReturnLine{LotID: lotID, Qty: l.Qty, UnitPrice: accounting.Amount(l.UnitPrice), Condition: Condition(l.Condition)}
	}
	c, err := h.coordinator.PostReturn(r.Context(), ReturnInput{
		SalesTransactionID: saleID,
		Reference:          req.Reference,
		Lines:              lines,
		IdempotencyKey:     idempotencyKey(r),
		ActorID:            httpx.ActorID(r),
	})
	h.respond(w, r, c, err)
}

type paymentRequest struct {
	Direction string `json:"direction" validate:"required,oneof=received made"`
	PartyID   int64  `json:"partyId" validate:"required,gt=0"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=120"`
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.coordinator.PostPayment(r.Context(), PaymentInput{
		Direction:      Direction(req.Direction),
		PartyID:        req.PartyID,
		Amount:         accounting.Amount(req.Amount),
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey(r),
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := toCompositeResponse(c)
	httpx.JSON(w, http.StatusCreated, map[string]any{"composite": resp, "amount": h.currency.Money(req.Amount)})
}

type writeOffRequest struct {
	ProductID   int64  `json:"productId" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouseId" validate:"required,gt=0"`
	Qty         int64  `json:"qty" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required,max=200"`
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	var req writeOffRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.coordinator.WriteOff(r.Context(), WriteOffInput{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		Qty:            req.Qty,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey(r),
		ActorID:        httpx.ActorID(r),
	})
	h.respond(w, r, c, err)
}

func (h *Handler) getComposite(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.coordinator.GetComposite(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompositeResponse(c))
}
