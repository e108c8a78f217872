package handlers

import (
	"encoding/json"
	"net/http"
)

// APIError is the uniform error body for every endpoint: a stable machine
// code for the UI to branch on plus a human-readable message.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes an APIError with the given status.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, APIError{Error: errorCode, Message: message})
}

// WriteJSON writes data as a JSON response. The status line is committed
// explicitly only for non-200 codes.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
