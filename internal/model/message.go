package model

import (
	"time"
)

// SystemSender marks synthetic transcript notices that are never persisted.
const SystemSender = "system"

// Message is a single chat message. IsRead only ever transitions
// false -> true; IsDeleted hides the row from queries and rendering.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
	IsDeleted      bool      `json:"is_deleted,omitempty"`
}

// CountsAsUnread reports whether the message counts toward the viewing
// operator's unread total.
func (m Message) CountsAsUnread(operatorID string) bool {
	return !m.IsRead && !m.IsDeleted && m.SenderID != operatorID
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// UpdateStatusRequest is the request body for changing a conversation status.
type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

// MessagePage is one slice of a conversation transcript, ordered oldest
// first. HasMore is the page-full heuristic: a full page is assumed to
// have older messages behind it.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ConversationView is what selecting a conversation returns: header data
// plus the first transcript page.
type ConversationView struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	HasMore      bool         `json:"has_more"`
	CanSend      bool         `json:"can_send"`
}
