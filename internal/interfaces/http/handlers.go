package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// handlers serves every API route. All state lives in the deps; the
// handlers themselves are stateless and safe for concurrent use.
type handlers struct {
	deps   Deps
	logger zerolog.Logger
	uptime func() time.Duration
}

func newHandlers(deps Deps, logger zerolog.Logger, uptime func() time.Duration) *handlers {
	return &handlers{deps: deps, logger: logger, uptime: uptime}
}

// writeJSON writes a JSON response with a fallback when encoding fails.
func (h *handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the standard error payload.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// handleError maps domain errors onto HTTP status codes.
func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *domain.RateLimitError
	var srcErr *domain.SourceUnavailableError
	var storeErr *domain.StoreUnavailableError
	var authErr *domain.AuthError

	switch {
	case errors.Is(err, domain.ErrSignalNotFound):
		h.writeError(w, r, http.StatusNotFound, "signal_not_found", err.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		h.writeError(w, r, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &srcErr):
		h.writeError(w, r, http.StatusServiceUnavailable, "source_unavailable", err.Error())
	case errors.As(err, &storeErr):
		h.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	case errors.As(err, &authErr):
		h.writeError(w, r, http.StatusUnauthorized, "source_auth_failed", err.Error())
	default:
		h.logger.Error().
			Str("request_id", RequestID(r.Context())).
			Err(err).
			Msg("request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error",
			"The request could not be completed")
	}
}

// NotFound handles unmatched routes.
func (h *handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles matched routes with the wrong verb.
func (h *handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		"The endpoint does not support "+r.Method)
}

// queryInt parses a bounded integer query parameter, falling back to
// def when absent or unparseable.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// queryTime parses an RFC 3339 query parameter.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}
