package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tartanilla/admin-inbox/internal/model"
)

// ValidateMessageBody validates a message body before sending.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("message body cannot be empty")
	}
	if len(body) > 10000 {
		return errors.New("message body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message body must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateStatus validates a conversation status value for updates.
func ValidateStatus(s model.Status) error {
	if s == model.StatusNone || !s.Valid() {
		return errors.New("status must be one of open, resolved, closed")
	}
	return nil
}

// ValidateStatusFilter validates a status filter: empty, "all", a single
// status, or a comma-set like "resolved,closed".
func ValidateStatusFilter(raw string) error {
	if raw == "" || raw == "all" {
		return nil
	}
	if len(model.ParseStatusSet(raw)) == 0 {
		return errors.New("invalid status filter")
	}
	return nil
}
