// Package inbox implements the operator inbox synchronization engine:
// conversation and message repositories, read-state tracking, filtering,
// and reconciliation of realtime change events against the local view.
package inbox

import (
	"github.com/tartanilla/admin-inbox/internal/model"
)

// EventKind identifies an inbox event delivered to observers.
type EventKind string

const (
	// EventConversationsLoaded carries a freshly loaded conversation set.
	EventConversationsLoaded EventKind = "conversations_loaded"
	// EventConversationsFiltered carries an in-memory filtered set plus
	// the filter that produced it.
	EventConversationsFiltered EventKind = "conversations_filtered"
	// EventConversationSelected announces the new active conversation for
	// header rendering.
	EventConversationSelected EventKind = "conversation_selected"
	// EventConversationStatusChanged announces a status transition on a
	// conversation; presentation toggles the compose input on it.
	EventConversationStatusChanged EventKind = "conversation_status_changed"
	// EventMessageReceived carries a message appended to the open
	// transcript.
	EventMessageReceived EventKind = "message_received"
	// EventMessageRead announces a read-indicator change on one of the
	// operator's own messages in the open transcript.
	EventMessageRead EventKind = "message_read"
	// EventMessagesMarkedRead triggers badge recounts elsewhere in the
	// application.
	EventMessagesMarkedRead EventKind = "messages_marked_read"
	// EventSubscriptionLost is emitted when realtime resubscription gives
	// up after the configured attempt cutoff.
	EventSubscriptionLost EventKind = "subscription_lost"
)

// Event is a typed notification from the inbox engine to presentation.
// Only the fields relevant to the kind are populated.
type Event struct {
	Kind           EventKind            `json:"kind"`
	Conversations  []model.Conversation `json:"conversations,omitempty"`
	Filter         model.Filter         `json:"filter,omitempty"`
	Conversation   *model.Conversation  `json:"conversation,omitempty"`
	Message        *model.Message       `json:"message,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Status         model.Status         `json:"status,omitempty"`
	CanSend        bool                 `json:"can_send,omitempty"`
	LoadFailed     bool                 `json:"load_failed,omitempty"`
	Table          string               `json:"table,omitempty"`
}

// Observer receives inbox events. Observers must not block: events are
// dispatched synchronously on the emitting goroutine.
type Observer func(Event)
