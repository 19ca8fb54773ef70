package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pypigo/pypigo"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// WriteUnauthorized writes a 401 challenging the client for basic
// credentials.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="pypigo"`)
	WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
}

// HandleError writes appropriate error response based on error type
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	if errors.Is(err, pypigo.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "Package not found")
		return
	}

	if errors.Is(err, pypigo.ErrInvalidInput) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Invalid request")
		return
	}

	if errors.Is(err, pypigo.ErrUnauthorized) {
		WriteUnauthorized(w)
		return
	}

	if errors.Is(err, pypigo.ErrForbidden) {
		WriteError(w, http.StatusForbidden, "forbidden", "Permission denied")
		return
	}

	if errors.Is(err, pypigo.ErrDuplicate) {
		WriteError(w, http.StatusConflict, "duplicate", "File already exists")
		return
	}

	if errors.Is(err, pypigo.ErrRebuildInProgress) {
		WriteError(w, http.StatusConflict, "rebuild_in_progress", "A cache rebuild is already running")
		return
	}

	if errors.Is(err, pypigo.ErrUpstreamUnavailable) {
		WriteError(w, http.StatusBadGateway, "upstream_unavailable", "Fallback index unavailable")
		return
	}

	// Default internal error
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
