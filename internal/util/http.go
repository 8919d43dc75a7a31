package util

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// =============================================================================
// HTTP Response Helpers
// =============================================================================

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write JSON response", "error", err)
	}
}

// =============================================================================
// HTTP Error Helpers
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
}

// RespondError sends a JSON error body with the given status.
func RespondError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message})
}

// RespondBadRequest sends a 400 Bad Request error response.
func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, message)
}

// RespondMethodNotAllowed sends a 405 Method Not Allowed error response.
func RespondMethodNotAllowed(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusMethodNotAllowed, message)
}

// RespondInternalError sends a 500 Internal Server Error response.
func RespondInternalError(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusInternalServerError, message)
}

// RespondServiceUnavailable sends a 503 Service Unavailable error response.
func RespondServiceUnavailable(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusServiceUnavailable, message)
}
