// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ProblemDetail represents RFC7807 problem details extended with a stable
// machine readable code.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response. Extra fields are merged
// into the top-level object.
func Problem(w http.ResponseWriter, status int, code, title, detail string, extra map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if len(extra) == 0 {
		_ = json.NewEncoder(w).Encode(ProblemDetail{Title: title, Status: status, Code: code, Detail: detail})
		return
	}
	body := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		body[k] = v
	}
	body["title"] = title
	body["status"] = status
	body["code"] = code
	if detail != "" {
		body["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	return nil
}

// Decoder decodes and validates request bodies.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder builds a decoder around a shared validator instance.
func NewDecoder(v *validator.Validate) *Decoder {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Decoder{validate: v}
}

// Decode reads the body into target and runs struct validation.
func (d *Decoder) Decode(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	if err := d.validate.StructCtx(r.Context(), target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fmt.Sprintf("failed %s", fe.Tag())
			}
			return &ValidationError{Fields: fields}
		}
		return &ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	return nil
}
