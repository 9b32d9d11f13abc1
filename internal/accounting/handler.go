package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ErrorRules maps ledger errors to HTTP responses. Other packages that
// surface ledger errors append these to their own rules.
var ErrorRules = []httpx.Rule{
	{Target: ErrUnbalanced, Status: http.StatusUnprocessableEntity, Code: "UNBALANCED"},
	{Target: ErrNonLeafAccount, Status: http.StatusUnprocessableEntity, Code: "NON_LEAF_ACCOUNT"},
	{Target: ErrUnknownAccount, Status: http.StatusUnprocessableEntity, Code: "UNKNOWN_ACCOUNT"},
	{Target: ErrAccountArchived, Status: http.StatusUnprocessableEntity, Code: "ACCOUNT_ARCHIVED"},
	{Target: ErrAmountOverflow, Status: http.StatusUnprocessableEntity, Code: "AMOUNT_OVERFLOW"},
	{Target: ErrDuplicateCode, Status: http.StatusConflict, Code: "DUPLICATE_CODE"},
	{Target: ErrInvalidParent, Status: http.StatusUnprocessableEntity, Code: "INVALID_PARENT"},
	{Target: ErrHasPostings, Status: http.StatusUnprocessableEntity, Code: "HAS_POSTINGS"},
	{Target: ErrHasActiveChildren, Status: http.StatusUnprocessableEntity, Code: "HAS_ACTIVE_CHILDREN"},
	{Target: ErrNotPosted, Status: http.StatusUnprocessableEntity, Code: "NOT_POSTED"},
	{Target: ErrNotDraft, Status: http.StatusConflict, Code: "NOT_DRAFT"},
	{Target: ErrEntryExists, Status: http.StatusConflict, Code: "CONFLICT"},
	{Target: ErrJournalNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Target: ErrMappingNotFound, Status: http.StatusUnprocessableEntity, Code: "MAPPING_NOT_FOUND"},
	{Target: ErrInvalidLine, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Target: ErrTooFewLines, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Target: ErrInvalidAccount, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
}

// Handler wires ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	decoder  *httpx.Decoder
	currency shared.Currency
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, decoder *httpx.Decoder, currency shared.Currency) *Handler {
	return &Handler{logger: logger, service: service, decoder: decoder, currency: currency}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Post("/", h.createAccount)
		r.Get("/{code}", h.getAccount)
		r.Get("/{code}/balance", h.getBalance)
		r.Post("/{code}/archive", h.archiveAccount)
		r.Post("/{code}/move", h.moveAccount)
	})
	r.Route("/journal-entries", func(r chi.Router) {
		r.Get("/", h.listEntries)
		r.Post("/", h.postEntry)
		r.Post("/drafts", h.createDraft)
		r.Put("/drafts/{id}", h.updateDraft)
		r.Post("/drafts/{id}/post", h.postDraft)
		r.Get("/{id}", h.getEntry)
		r.Post("/{id}/reverse", h.reverseEntry)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.Classify(err, ErrorRules...)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID *int64 `json:"parentId,omitempty"`
	IsLeaf   bool   `json:"isLeaf"`
	Archived bool   `json:"archived"`
	Sign     int64  `json:"normalSign"`
	Created  string `json:"createdAt"`
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID: a.ID, Code: a.Code, Name: a.Name, Type: string(a.Type), ParentID: a.ParentID,
		IsLeaf: a.IsLeaf, Archived: a.Archived, Sign: a.NormalSign(), Created: a.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.service.ListAccounts(r.URL.Query().Get("includeArchived") == "true")
	out := make([]accountResponse, len(accounts))
	for i, a := range accounts {
		out[i] = toAccountResponse(a)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type createAccountRequest struct {
	Code       string `json:"code" validate:"required,max=32"`
	Name       string `json:"name" validate:"required,max=200"`
	Type       string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentCode string `json:"parentCode" validate:"omitempty,max=32"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		Code: req.Code, Name: req.Name, Type: AccountType(req.Type), ParentCode: req.ParentCode, ActorID: httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (h *Handler) lookup(r *http.Request) (Account, error) {
	acc, err := h.service.GetAccountByCode(chi.URLParam(r, "code"))
	if errors.Is(err, ErrUnknownAccount) {
		return Account{}, httpx.ErrNotFound
	}
	return acc, err
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.lookup(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := h.lookup(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asOf, err := httpx.QueryTime(r, "asOf")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), acc.ID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"code":    acc.Code,
		"balance": h.currency.Money(int64(balance)),
	}
	if asOf != nil {
		resp["asOf"] = asOf.Format(time.RFC3339)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) archiveAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.lookup(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Archive(r.Context(), acc.ID, httpx.ActorID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveAccountRequest struct {
	ParentCode string `json:"parentCode" validate:"required"`
}

func (h *Handler) moveAccount(w http.ResponseWriter, r *http.Request) {
	var req moveAccountRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.service.MoveAccount(r.Context(), chi.URLParam(r, "code"), req.ParentCode, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(acc))
}

type lineRequest struct {
	AccountCode string `json:"accountCode" validate:"required"`
	Debit       int64  `json:"debit" validate:"gte=0"`
	Credit      int64  `json:"credit" validate:"gte=0"`
	Memo        string `json:"memo" validate:"max=500"`
}

type entryRequest struct {
	Reference string        `json:"reference" validate:"max=100"`
	Memo      string        `json:"memo" validate:"max=500"`
	Lines     []lineRequest `json:"lines" validate:"dive"`
}

func (h *Handler) resolveLines(lines []lineRequest) ([]PostingLineInput, error) {
	out := make([]PostingLineInput, len(lines))
	for i, l := range lines {
		acc, err := h.service.GetAccountByCode(l.AccountCode)
		if err != nil {
			return nil, err
		}
		out[i] = PostingLineInput{AccountID: acc.ID, Debit: Amount(l.Debit), Credit: Amount(l.Credit), Memo: l.Memo}
	}
	return out, nil
}

type lineResponse struct {
	AccountID   int64        `json:"accountId"`
	AccountCode string       `json:"accountCode"`
	Debit       shared.Money `json:"debit"`
	Credit      shared.Money `json:"credit"`
	Memo        string       `json:"memo,omitempty"`
}

type entryResponse struct {
	ID         uuid.UUID      `json:"id"`
	Number     int64          `json:"number"`
	Reference  string         `json:"reference"`
	Memo       string         `json:"memo"`
	Status     string         `json:"status"`
	ReversalOf *uuid.UUID     `json:"reversalOf,omitempty"`
	ReversedBy *uuid.UUID     `json:"reversedBy,omitempty"`
	PostedAt   *time.Time     `json:"postedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Lines      []lineResponse `json:"lines"`
}

func (h *Handler) toEntryResponse(e JournalEntry) entryResponse {
	lines := make([]lineResponse, len(e.Lines))
	for i, l := range e.Lines {
		code := ""
		if acc, ok := h.service.tree.Get(l.AccountID); ok {
			code = acc.Code
		}
		lines[i] = lineResponse{
			AccountID: l.AccountID, AccountCode: code, Memo: l.Memo,
			Debit: h.currency.Money(int64(l.Debit)), Credit: h.currency.Money(int64(l.Credit)),
		}
	}
	return entryResponse{
		ID: e.ID, Number: e.Number, Reference: e.Reference, Memo: e.Memo, Status: string(e.Status),
		ReversalOf: e.ReversalOf, ReversedBy: e.ReversedBy, PostedAt: e.PostedAt, CreatedAt: e.CreatedAt, Lines: lines,
	}
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryInt(r, "page", 1)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perPage, err := httpx.QueryInt(r, "perPage", 20)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, pagination, err := h.service.ListEntries(r.Context(), EntryFilter{
		Status: JournalStatus(r.URL.Query().Get("status")), Page: int(page), PerPage: int(perPage),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = h.toEntryResponse(e)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out, "pagination": pagination})
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.resolveLines(req.Lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.Post(r.Context(), PostingInput{Reference: req.Reference, Memo: req.Memo, ActorID: httpx.ActorID(r), Lines: lines})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toEntryResponse(entry))
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.resolveLines(req.Lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.CreateDraft(r.Context(), DraftInput{Reference: req.Reference, Memo: req.Memo, ActorID: httpx.ActorID(r), Lines: lines})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toEntryResponse(entry))
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req entryRequest
	if err := h.decoder.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.resolveLines(req.Lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.UpdateDraft(r.Context(), id, DraftInput{Reference: req.Reference, Memo: req.Memo, ActorID: httpx.ActorID(r), Lines: lines})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toEntryResponse(entry))
}

func (h *Handler) postDraft(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.PostDraft(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toEntryResponse(entry))
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toEntryResponse(entry))
}

type reverseRequest struct {
	Memo string `json:"memo" validate:"max=500"`
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := h.decoder.Decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	reversal, err := h.service.Reverse(r.Context(), ReverseInput{EntryID: id, ActorID: httpx.ActorID(r), Memo: req.Memo})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toEntryResponse(reversal))
}
