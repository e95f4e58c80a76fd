package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcus/tpled/internal/serverdb"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternal        = "internal_error"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeSignupDisabled  = "signup_disabled"
	ErrCodeExpired         = "expired"
	ErrCodeAlreadyUsed     = "already_used"
	ErrCodeVersionConflict = "version_conflict"
	ErrCodeUserNotFound    = "user_not_found"
	ErrCodeNoContent       = "no_content"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// classifyStoreError maps store sentinels to a status, code and message.
// Unrecognised errors are a 500 with an empty message.
func classifyStoreError(err error) (int, string, string) {
	switch {
	case errors.Is(err, serverdb.ErrTemplateNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "template not found"
	case errors.Is(err, serverdb.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, serverdb.ErrVersionNotFound),
		errors.Is(err, serverdb.ErrShareNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, serverdb.ErrUserNotFound):
		return http.StatusNotFound, ErrCodeUserNotFound, "user not found; they must sign in once before a template can be shared with them"
	case errors.Is(err, serverdb.ErrVersionConflict):
		return http.StatusConflict, ErrCodeVersionConflict, err.Error()
	case errors.Is(err, serverdb.ErrInvalidName),
		errors.Is(err, serverdb.ErrInvalidRole),
		errors.Is(err, serverdb.ErrShareWithOwner):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	case errors.Is(err, serverdb.ErrSignupDisabled):
		return http.StatusForbidden, ErrCodeSignupDisabled, err.Error()
	}
	return http.StatusInternalServerError, ErrCodeInternal, ""
}

// writeStoreError writes the response for a store error. Anything
// unrecognised is logged and reported as a 500 with the given message.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status, code, msg := classifyStoreError(err)
	if status == http.StatusInternalServerError {
		logFor(r.Context()).Error(message, "err", err)
		msg = message
	}
	writeError(w, status, code, msg)
}
