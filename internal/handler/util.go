package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tartanilla/admin-inbox/internal/inbox"
)

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeInboxError maps engine errors onto API status codes: a superseded
// load conflicts, a missing conversation is 404, a send on a terminal
// conversation is an unprocessable write, and anything else is a remote
// store failure the client may retry.
func writeInboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inbox.ErrStaleLoad):
		writeError(w, http.StatusConflict, "superseded by a newer request")
	case errors.Is(err, inbox.ErrNoActiveConversation):
		writeError(w, http.StatusConflict, "conversation is not selected")
	case errors.Is(err, inbox.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, inbox.ErrConversationClosed):
		writeError(w, http.StatusUnprocessableEntity, "conversation is closed to new messages")
	default:
		writeError(w, http.StatusBadGateway, "remote store unavailable")
	}
}
