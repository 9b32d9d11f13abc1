package posting

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	currency, err := shared.ParseCurrency("IDR")
	require.NoError(t, err)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.coord, httpx.NewDecoder(nil), currency)
	r := chi.NewRouter()
	h.MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, f
}

func post(t *testing.T, url, key, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHandlerPurchaseThenSell(t *testing.T) {
	srv, f := newTestServer(t)

	var purchase compositeResponse
	resp := post(t, srv.URL+"/invoices/purchase", "", `{"supplierId":3,"reference":"PI-1","lines":[{"productId":7,"warehouseId":1,"qty":10,"unitCost":100,"expiryDate":"2025-04-01"}]}`, &purchase)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, KindPurchaseInvoice, purchase.Kind)
	require.Len(t, purchase.Lines, 1)

	var sale compositeResponse
	resp = post(t, srv.URL+"/invoices/sales", "so-1", `{"customerId":9,"reference":"SI-1","lines":[{"productId":7,"warehouseId":1,"qty":4,"unitPrice":200}]}`, &sale)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, StatusCommitted, sale.Status)
	require.NotNil(t, sale.JournalEntryID)

	var replay compositeResponse
	resp = post(t, srv.URL+"/invoices/sales", "so-1", `{"customerId":9,"reference":"SI-1","lines":[{"productId":7,"warehouseId":1,"qty":4,"unitPrice":200}]}`, &replay)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, sale.ID, replay.ID)
	require.Equal(t, int64(6), f.lot(t, purchase.Lines[0].LotID).OnHand)

	var got compositeResponse
	resp, err := http.Get(srv.URL + "/composites/" + sale.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, sale.ID, got.ID)
}

func TestHandlerProblems(t *testing.T) {
	srv, _ := newTestServer(t)

	var problem map[string]any
	resp := post(t, srv.URL+"/invoices/sales", "", `{"customerId":9,"reference":"SI-1","lines":[{"productId":7,"warehouseId":1,"qty":4,"unitPrice":200}]}`, &problem)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "INSUFFICIENT_STOCK", problem["code"])

	problem = nil
	resp = post(t, srv.URL+"/invoices/sales", "", `{"customerId":9,"reference":"SI-1","lines":[]}`, &problem)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem = nil
	resp = post(t, srv.URL+"/returns/sales", "", `{"salesTransactionId":"`+uuid.NewString()+`","reference":"RMA","lines":[{"lotId":"`+uuid.NewString()+`","qty":1}]}`, &problem)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", problem["code"])
}

func TestHandlerPayment(t *testing.T) {
	srv, f := newTestServer(t)

	var body map[string]any
	resp := post(t, srv.URL+"/payments", "", `{"direction":"received","partyId":9,"amount":1500,"reference":"RCPT-1"}`, &body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	amount := body["amount"].(map[string]any)
	require.Equal(t, "IDR", amount["currency"])
	require.EqualValues(t, 1500, amount["minor"])
	require.EqualValues(t, 1500, f.balance(t, "1100"))
}
