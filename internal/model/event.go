package model

import (
	"encoding/json"
	"fmt"
)

// ChangeType is the kind of row change delivered by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Table names carried on change events.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
)

// ChangeEvent is a row-change notification from the remote store:
// {eventType, new, old} scoped to a table. New and Old are raw so one
// event type covers both collections.
type ChangeEvent struct {
	Type  ChangeType      `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// MessageChange builds a change event for a message row.
func MessageChange(t ChangeType, newRow, oldRow *Message) (ChangeEvent, error) {
	ev := ChangeEvent{Type: t, Table: TableMessages}
	var err error
	if newRow != nil {
		if ev.New, err = json.Marshal(newRow); err != nil {
			return ev, fmt.Errorf("marshal new message: %w", err)
		}
	}
	if oldRow != nil {
		if ev.Old, err = json.Marshal(oldRow); err != nil {
			return ev, fmt.Errorf("marshal old message: %w", err)
		}
	}
	return ev, nil
}

// ConversationChange builds a change event for a conversation row.
func ConversationChange(t ChangeType, newRow, oldRow *Conversation) (ChangeEvent, error) {
	ev := ChangeEvent{Type: t, Table: TableConversations}
	var err error
	if newRow != nil {
		if ev.New, err = json.Marshal(newRow); err != nil {
			return ev, fmt.Errorf("marshal new conversation: %w", err)
		}
	}
	if oldRow != nil {
		if ev.Old, err = json.Marshal(oldRow); err != nil {
			return ev, fmt.Errorf("marshal old conversation: %w", err)
		}
	}
	return ev, nil
}

// DecodeMessage decodes the New payload of a message change event.
func (e ChangeEvent) DecodeMessage() (Message, error) {
	var m Message
	if e.Table != TableMessages {
		return m, fmt.Errorf("event is for table %q, not messages", e.Table)
	}
	if err := json.Unmarshal(e.New, &m); err != nil {
		return m, fmt.Errorf("decode message payload: %w", err)
	}
	return m, nil
}

// DecodeConversation decodes the New payload of a conversation change event.
func (e ChangeEvent) DecodeConversation() (Conversation, error) {
	var c Conversation
	if e.Table != TableConversations {
		return c, fmt.Errorf("event is for table %q, not conversations", e.Table)
	}
	if err := json.Unmarshal(e.New, &c); err != nil {
		return c, fmt.Errorf("decode conversation payload: %w", err)
	}
	return c, nil
}

// DecodeOldConversation decodes the Old payload of a conversation change
// event, used to detect status transitions.
func (e ChangeEvent) DecodeOldConversation() (Conversation, bool) {
	var c Conversation
	if len(e.Old) == 0 {
		return c, false
	}
	if err := json.Unmarshal(e.Old, &c); err != nil {
		return c, false
	}
	return c, true
}
