package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the standard JSON response shape: {"success": bool, ...}.
type envelope map[string]interface{}

func respondJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func respondOK(w http.ResponseWriter, payload envelope) {
	if payload == nil {
		payload = envelope{}
	}
	payload["success"] = true
	respondJSON(w, http.StatusOK, payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{
		"success": false,
		"message": message,
	})
}
