package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/http/middleware"
	"github.com/mfreitas/musicgen-back/internal/service"
	"github.com/mfreitas/musicgen-back/internal/session"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	generation *service.GenerationService
	sessions   *session.Manager
}

func NewAPI(generation *service.GenerationService, sessions *session.Manager) *API {
	return &API{
		generation: generation,
		sessions:   sessions,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeDomainError maps the orchestration failure classes to their
// load-bearing status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_args", err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many generation requests, slow down")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "unauthorized access to job")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", "cannot cancel a started or completed job")
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, r, http.StatusBadRequest, "not_ready", "job not completed")
	case errors.Is(err, domain.ErrMissingArtifact):
		writeError(w, r, http.StatusNotFound, "artifact_missing", "audio file not available")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "job store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// decodeJSON tolerates unknown keys: clients sending extra fields get
// them ignored, not a rejection.
func decodeJSON(r *http.Request, value any) error {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// clientIP identifies the submitting client for admission control. The
// first valid X-Forwarded-For hop wins behind a proxy; the socket address
// otherwise.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			candidate := strings.TrimSpace(part)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
