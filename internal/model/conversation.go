// Package model defines data structures for the admin inbox.
package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a support conversation. Peer-to-peer
// chats carry no status and use StatusNone.
type Status string

const (
	StatusNone     Status = ""
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusOpen, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the conversation no longer accepts messages.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusClosed:
		return true
	}
	return false
}

// ParseStatusSet parses a single status or a comma-set ("resolved,closed")
// into the list of statuses a query should match. Empty input and "all"
// match every status.
func ParseStatusSet(raw string) []Status {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "all" {
		return nil
	}
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		s := Status(strings.TrimSpace(part))
		if s != StatusNone && s.Valid() {
			out = append(out, s)
		}
	}
	return out
}

// Profile is the participant record joined onto conversations.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// PlaceholderProfile substitutes for a participant whose profile row is
// missing. The load must not fail on one unresolvable participant.
func PlaceholderProfile(id string) Profile {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return Profile{ID: id, Name: "User " + short, Role: "unknown"}
}

// NoMessagesYet is the last-message sentinel for empty conversations.
const NoMessagesYet = "no messages yet"

// Conversation is one inbox entry: the stored row plus fields derived on
// read (peer profile, last message, unread count).
type Conversation struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	OperatorID    string    `json:"operator_id"`
	Subject       string    `json:"subject,omitempty"`
	Status        Status    `json:"status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Derived on read, never stored.
	Peer             Profile   `json:"peer"`
	LastMessage      string    `json:"last_message"`
	LastMessageTime  time.Time `json:"last_message_time,omitempty"`
	LastMessageLabel string    `json:"last_message_label,omitempty"`
	UnreadCount      int       `json:"unread_count"`
}

// SortKey is max(lastMessageTime, createdAt): conversations with no
// messages sort by creation time.
func (c Conversation) SortKey() time.Time {
	if c.LastMessageTime.After(c.CreatedAt) {
		return c.LastMessageTime
	}
	return c.CreatedAt
}
