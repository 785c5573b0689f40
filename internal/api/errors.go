package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/chatlink/internal/broker"
	"github.com/nerrad567/chatlink/internal/chatlink"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// linkErrorStatus maps a link command error onto an HTTP status and code.
func linkErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chatlink.ErrEmptyPayload),
		errors.Is(err, broker.ErrPayloadTooLarge):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, chatlink.ErrNotConnected),
		errors.Is(err, chatlink.ErrAlreadyInProgress):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, chatlink.ErrDisposed),
		errors.Is(err, chatlink.ErrTransportUninitialized):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeLinkError writes the response for a rejected link command.
func writeLinkError(w http.ResponseWriter, err error) {
	status, code := linkErrorStatus(err)
	writeError(w, status, code, err.Error())
}
