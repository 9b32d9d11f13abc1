package reports

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHandlerReports(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	currency, err := shared.ParseCurrency("USD")
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, currency).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	var tb map[string]any
	resp := getJSON(t, srv.URL+"/reports/trial-balance?asOf=2025-03-01", &tb)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, tb["balanced"])
	require.Equal(t, "USD", tb["currency"])
	require.EqualValues(t, 2, tb["scale"])

	var problem map[string]any
	resp = getJSON(t, srv.URL+"/reports/trial-balance?asOf=yesterday", &problem)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_FAILED", problem["code"])

	var valuation map[string]any
	resp = getJSON(t, srv.URL+"/reports/stock-valuation?productId=7", &valuation)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	total := valuation["total"].(map[string]any)
	require.Equal(t, "29", total["amount"])

	var expiring []ExpiringLot
	resp = getJSON(t, srv.URL+"/reports/expiring-lots?days=0", &expiring)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, expiring, 2)

	resp = getJSON(t, srv.URL+"/reports/expiring-lots?days=-3", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var low []LowStockRow
	resp = getJSON(t, srv.URL+"/reports/low-stock", &low)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, low, 4)

	resp = getJSON(t, srv.URL+"/reports/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
