package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/platform/lock"
)

// Sentinel errors shared by handlers.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrBusy       = errors.New("temporarily unavailable")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "validation failed" }

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Details implements Detailer.
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"fields": e.Fields}
}

// Detailer is implemented by errors that expose structured context in the
// problem body.
type Detailer interface {
	Details() map[string]any
}

// Rule maps a domain error to a status and stable code.
type Rule struct {
	Target error
	Status int
	Code   string
}

var baseRules = []Rule{
	{ErrValidation, http.StatusBadRequest, "VALIDATION_FAILED"},
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrDuplicate, http.StatusConflict, "CONFLICT"},
	{ErrConflict, http.StatusConflict, "CONFLICT"},
	{ErrBusy, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{lock.ErrNotObtained, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// RespondError maps err to an RFC7807 response. Package rules are checked
// before the shared ones.
func RespondError(w http.ResponseWriter, err error, rules ...Rule) {
	status, code := Classify(err, rules...)
	var extra map[string]any
	var d Detailer
	if errors.As(err, &d) {
		extra = d.Details()
	}
	detail := ""
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, code, http.StatusText(status), detail, extra)
}

// Classify resolves the status and code for err.
func Classify(err error, rules ...Rule) (int, string) {
	for _, set := range [][]Rule{rules, baseRules} {
		for _, rule := range set {
			if errors.Is(err, rule.Target) {
				return rule.Status, rule.Code
			}
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}
