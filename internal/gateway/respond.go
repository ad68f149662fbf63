// ABOUTME: JSON response helpers for the chat API envelope
// ABOUTME: Success bodies carry data or a message, errors carry a message

package gateway

import (
	"encoding/json"
	"net/http"
)

// envelope is the {status, data|message} wrapper of the conversation routes.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data})
}

func writeSuccessMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: message})
}

// writeError sends {status:"error", message} with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: "error", Message: message})
}
