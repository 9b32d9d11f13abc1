package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ErrorRules maps report errors to HTTP responses.
var ErrorRules = []httpx.Rule{
	{Target: ErrInvalidWindow, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
}

// Handler exposes the report endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	currency shared.Currency
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, currency shared.Currency) *Handler {
	return &Handler{logger: logger, service: service, currency: currency}
}

// MountRoutes registers the report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/profit-and-loss", h.profitAndLoss)
		r.Get("/balance-sheet", h.balanceSheet)
		r.Get("/stock-valuation", h.valuation)
		r.Get("/expiring-lots", h.expiring)
		r.Get("/low-stock", h.lowStock)
		r.Get("/dashboard", h.dashboard)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.Classify(err, ErrorRules...)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "report failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}

type trialBalanceResponse struct {
	TrialBalance
	Balanced bool   `json:"balanced"`
	Currency string `json:"currency"`
	Scale    int32  `json:"scale"`
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryTime(r, "asOf")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trialBalanceResponse{TrialBalance: tb, Balanced: tb.Balanced(), Currency: h.currency.Code, Scale: h.currency.Scale})
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryTime(r, "asOf")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"report": pl, "netIncome": h.currency.Money(int64(pl.NetIncome))})
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryTime(r, "asOf")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bs, err := h.service.BalanceSheet(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
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
	v, err := h.service.StockValuation(r.Context(), ValuationFilter{ProductID: productID, WarehouseID: warehouseID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": v.Rows, "total": h.currency.Money(v.Total)})
}

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	days, err := httpx.QueryInt(r, "days", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lots, err := h.service.ExpiringLots(r.Context(), int(days))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lots)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.LowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}
