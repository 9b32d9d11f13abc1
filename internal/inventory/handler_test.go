package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, httpx.NewDecoder(nil))
	r := chi.NewRouter()
	h.MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, f
}

func doJSON(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHandlerReceiveAndReserve(t *testing.T) {
	srv, _ := newTestServer(t)

	var lot LotResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/inventory/lots", `{"productId":7,"warehouseId":1,"qty":10,"unitCost":250,"expiryDate":"2025-06-30"}`, &lot)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int64(10), lot.OnHand)
	require.Equal(t, "2025-06-30", lot.ExpiryDate)
	require.Equal(t, LotStatusActive, lot.Status)

	var reserved map[string]any
	resp = doJSON(t, http.MethodPost, srv.URL+"/inventory/reservations", `{"productId":7,"warehouseId":1,"qty":4}`, &reserved)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 1000, reserved["totalCost"])
	require.Equal(t, "250", reserved["weightedUnitCost"])

	var lots []LotResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/inventory/lots?productId=7&expiringWithinDays=365", "", &lots)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, lots, 1)
	require.Equal(t, int64(6), lots[0].Available)

	handle := reserved["handle"].(string)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/inventory/reservations/"+handle, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var res map[string]any
	resp = doJSON(t, http.MethodGet, srv.URL+"/inventory/reservations/"+handle, "", &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "RELEASED", res["status"])
}

func TestHandlerInsufficientStockProblem(t *testing.T) {
	srv, f := newTestServer(t)
	f.receive(t, 3, 100, nil)

	var problem map[string]any
	resp := doJSON(t, http.MethodPost, srv.URL+"/inventory/reservations", `{"productId":7,"warehouseId":1,"qty":5}`, &problem)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "INSUFFICIENT_STOCK", problem["code"])
	require.EqualValues(t, 2, problem["shortfall"])
	require.EqualValues(t, 7, problem["productId"])
}

func TestHandlerAdjustAndMovements(t *testing.T) {
	srv, f := newTestServer(t)
	lot := f.receive(t, 10, 100, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/inventory/lots/"+lot.ID.String()+"/adjust", `{"delta":-3,"reason":"cycle count"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var mvs []map[string]any
	resp = doJSON(t, http.MethodGet, srv.URL+"/inventory/lots/"+lot.ID.String()+"/movements", "", &mvs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, mvs, 2)
	require.Equal(t, "ADJUSTMENT", mvs[1]["type"])

	var problem map[string]any
	resp = doJSON(t, http.MethodPost, srv.URL+"/inventory/lots/"+lot.ID.String()+"/adjust", `{"reason":"missing delta"}`, &problem)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_FAILED", problem["code"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/inventory/lots/not-a-uuid", "", &problem)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
