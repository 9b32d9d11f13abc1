package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// ErrorRules maps inventory errors to HTTP responses.
var ErrorRules = []httpx.Rule{
	{Target: ErrInsufficientStock, Status: http.StatusUnprocessableEntity, Code: "INSUFFICIENT_STOCK"},
	{Target: ErrLotNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Target: ErrReservationNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Target: ErrReservationClosed, Status: http.StatusConflict, Code: "CONFLICT"},
	{Target: ErrQuantityOverflow, Status: http.StatusUnprocessableEntity, Code: "QUANTITY_OVERFLOW"},
	{Target: ErrSameWarehouse, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Target: ErrInvalidQuantity, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Target: ErrInvalidUnitCost, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Target: ErrInvalidInput, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
}

// Handler wires inventory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	decoder *httpx.Decoder
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, decoder *httpx.Decoder) *Handler {
	return &Handler{logger: logger, service: service, decoder: decoder}
}

// MountRoutes registers HTTP routes for the inventory module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/available", h.available)
		r.Get("/lots", h.listLots)
		r.Post("/lots", h.receive)
		r.Get("/lots/{id}", h.getLot)
		r.Post("/lots/{id}/adjust", h.adjust)
		r.Get("/lots/{id}/movements", h.movements)
		r.Post("/reservations", h.reserve)
		r.Get("/reservations/{handle}", h.getReservation)
		r.Delete("/reservations/{handle}", h.release)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.Classify(err, ErrorRules...)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}

// LotResponse is the JSON form of a lot.
type LotResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProductID      int64      `json:"productId"`
	WarehouseID    int64      `json:"warehouseId"`
	OnHand         int64      `json:"onHand"`
	Reserved       int64      `json:"reserved"`
	Available      int64      `json:"available"`
	InitialQty     int64      `json:"initialQty"`
	UnitCost       int64      `json:"unitCost"`
	ProductionDate string     `json:"productionDate,omitempty"`
	ExpiryDate     string     `json:"expiryDate,omitempty"`
	ReceivedAt     string     `json:"receivedAt"`
	Damaged        bool       `json:"damaged"`
	Status         LotStatus  `json:"status"`
	SourceLotID    *uuid.UUID `json:"sourceLotId,omitempty"`
}

// ToLotResponse renders l with its status at now.
func ToLotResponse(l Lot, now time.Time) LotResponse {
	resp := LotResponse{
		ID: l.ID, ProductID: l.ProductID, WarehouseID: l.WarehouseID,
		OnHand: l.OnHand, Reserved: l.Reserved, Available: l.Available(), InitialQty: l.InitialQty,
		UnitCost: l.UnitCost, ReceivedAt: l.ReceivedAt.Format(time.RFC3339),
		Damaged: l.Damaged, Status: l.Status(now), SourceLotID: l.SourceLotID,
	}
	if l.ProductionDate != nil {
		resp.ProductionDate = l.ProductionDate.Format(time.DateOnly)
	}
	if l.ExpiryDate != nil {
		resp.ExpiryDate = l.ExpiryDate.Format(time.DateOnly)
	}
	return resp
}

func (h *Handler) lots(lots []Lot) []LotResponse {
	now := h.service.now()
	out := make([]LotResponse, len(lots))
	for i, l := range lots {
		out[i] = ToLotResponse(l, now)
	}
	return out
}

type movementResponse struct {
	ID             uuid.UUID    `json:"id"`
	LotID          uuid.UUID    `json:"lotId"`
	Delta          int64        `json:"delta"`
	Type           MovementType `json:"type"`
	JournalEntryID *uuid.UUID   `json:"journalEntryId,omitempty"`
	ReservationID  *uuid.UUID   `json:"reservationId,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	CreatedAt      string       `json:"createdAt"`
}

func toMovementResponse(m StockMovement) movementResponse {
	return movementResponse{
		ID: m.ID, LotID: m.LotID, Delta: m.Delta, Type: m.Type,
		JournalEntryID: m.JournalEntryID, ReservationID: m.ReservationID,
		Reason: m.Reason, CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryInt(r, "productId", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	warehouseID, err := httpx.QueryInt(r, "warehouseId", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	lots, err := h.service.GetAvailable(r.Context(), productID, warehouseID, AvailabilityOptions{
		IncludeExpired: q.Get("includeExpired") == "true",
		IncludeDamaged: q.Get("includeDamaged") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var total int64
	for _, l := range lots {
		total += l.Available()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"available": total, "lots": h.lots(lots)})
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	var filter LotFilter
	var err error
	if filter.ProductID, err = httpx.QueryInt(r, "productId", 0); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt(r, "warehouseId", 0); err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := httpx.QueryInt(r, "expiringWithinDays", -1)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if days >= 0 {
		cutoff := h.service.now().AddDate(0, 0, int(days))
		filter.ExpiringBefore = &cutoff
	}
	filter.IncludeEmpty = r.URL.Query().Get("includeEmpty") == "true"
	lots, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.lots(lots))
}

type receiveRequest struct {
	ProductID      int64  `json:"productId" validate:"required,gt=0"`
	WarehouseID    int64  `json:"warehouseId" validate:"required,gt=0"`
	Qty            int64  `json:"qty" validate:"required,gt=0"`
	UnitCost       int64  `json:"unitCost" validate:"gte=0"`
	ProductionDate string `json:"productionDate" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate     string `json:"expiryDate" validate:"omitempty,datetime=2006-01-02"`
	Reference      string `json:"reference" validate:"max=120"`
}

// ParseDate parses an optional YYYY-MM-DD value.
func ParseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.service.Receive(r.Context(), ReceiveInput{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		Qty:            req.Qty,
		UnitCost:       req.UnitCost,
		ProductionDate: ParseDate(req.ProductionDate),
		ExpiryDate:     ParseDate(req.ExpiryDate),
		Reference:      req.Reference,
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToLotResponse(lot, h.service.now()))
}

func (h *Handler) getLot(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToLotResponse(lot, h.service.now()))
}

type adjustRequest struct {
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=200"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req adjustRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.service.Adjust(r.Context(), AdjustInput{LotID: id, Delta: req.Delta, Reason: req.Reason, ActorID: httpx.ActorID(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(mv))
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mvs, err := h.service.ListMovements(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]movementResponse, len(mvs))
	for i, m := range mvs {
		out[i] = toMovementResponse(m)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type reserveRequest struct {
	ProductID   int64 `json:"productId" validate:"required,gt=0"`
	WarehouseID int64 `json:"warehouseId" validate:"required,gt=0"`
	Qty         int64 `json:"qty" validate:"required,gt=0"`
}

type reservationLineResponse struct {
	LotID    uuid.UUID `json:"lotId"`
	Qty      int64     `json:"qty"`
	UnitCost int64     `json:"unitCost"`
}

func toLineResponses(lines []ReservationLine) []reservationLineResponse {
	out := make([]reservationLineResponse, len(lines))
	for i, l := range lines {
		out[i] = reservationLineResponse{LotID: l.LotID, Qty: l.Qty, UnitCost: l.UnitCost}
	}
	return out
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	alloc, err := h.service.Allocate(r.Context(), AllocateInput{ProductID: req.ProductID, WarehouseID: req.WarehouseID, Qty: req.Qty})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"handle":           alloc.Handle,
		"productId":        alloc.ProductID,
		"warehouseId":      alloc.WarehouseID,
		"qty":              alloc.Qty,
		"lines":            toLineResponses(alloc.Lines),
		"totalCost":        alloc.TotalCost,
		"weightedUnitCost": alloc.WeightedUnitCost.String(),
	})
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	handle, err := httpx.PathUUID(chi.URLParam(r, "handle"), "handle")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.GetReservation(r.Context(), handle)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"handle":      res.Handle,
		"productId":   res.ProductID,
		"warehouseId": res.WarehouseID,
		"qty":         res.Qty,
		"status":      res.Status,
		"lines":       toLineResponses(res.Lines),
		"createdAt":   res.CreatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	handle, err := httpx.PathUUID(chi.URLParam(r, "handle"), "handle")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Release(r.Context(), handle); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
