package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type shortfall struct{ n int64 }

func (s *shortfall) Error() string { return "short" }
func (s *shortfall) Details() map[string]any {
	return map[string]any{"shortfall": s.n}
}

var errShort = errors.New("short")

func (s *shortfall) Is(target error) bool { return target == errShort }

func TestRespondErrorUsesPackageRules(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("wrap: %w", &shortfall{n: 5}), Rule{errShort, http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INSUFFICIENT_STOCK", body["code"])
	require.EqualValues(t, 5, body["shortfall"])
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
	require.Contains(t, rec.Body.String(), `"code":"INTERNAL"`)
}

func TestDecoderValidates(t *testing.T) {
	type payload struct {
		Code string `json:"code" validate:"required"`
		Qty  int64  `json:"qty" validate:"gt=0"`
	}
	d := NewDecoder(nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"","qty":0}`))
	var p payload
	err := d.Decode(req, &p)
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "payload.Code")
	require.Contains(t, verr.Fields, "payload.Qty")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"A","qty":2,"extra":1}`))
	require.ErrorIs(t, d.Decode(req, &p), ErrValidation)
}
