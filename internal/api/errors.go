package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ivasann/daisy-copilot/internal/domain"
)

// retryAfterSeconds is advertised on retryable upstream failures.
const retryAfterSeconds = "5"

// writeDomainError maps service errors to statuses. insufficient is the status
// used for ErrInsufficientFunds, so /ai-chat can answer 402 while spends answer 400.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, insufficient int) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, insufficient, "insufficient_funds", "Insufficient coins")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_failed", detail(err, domain.ErrInvalidArgument))
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "chat service unavailable, try again later")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage temporarily unavailable")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// detail strips the sentinel prefix so "invalid argument: Duration must be positive"
// is reported as "Duration must be positive".
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != msg {
		return trimmed
	}
	return msg
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch {
	case field == "duration":
		return "Duration must be positive"
	case fe.Tag() == "required":
		return field + " is required"
	case fe.Tag() == "email":
		return "invalid email address"
	case fe.Tag() == "min" && fe.Param() == "0":
		return field + " must be non-negative"
	case fe.Tag() == "gt":
		return field + " must be positive"
	case fe.Tag() == "max":
		return field + " must be at most " + fe.Param()
	default:
		return field + " is invalid"
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
