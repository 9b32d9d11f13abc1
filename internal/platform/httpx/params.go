package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// QueryTime parses an RFC3339 instant or a YYYY-MM-DD date from the query
// string. A bare date means the end of that day (UTC).
func QueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{key: "expected RFC3339 or YYYY-MM-DD"}}
	}
	end := d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return &end, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ValidationError{Fields: map[string]string{key: "expected integer"}}
	}
	return v, nil
}

// PathUUID parses a UUID path value.
func PathUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{Fields: map[string]string{name: fmt.Sprintf("invalid uuid %q", raw)}}
	}
	return id, nil
}

// ActorID reads the optional X-Actor-ID header used for audit attribution.
func ActorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
