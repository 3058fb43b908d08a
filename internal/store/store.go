// Package store defines the remote store contract the inbox engine
// consumes, and its Postgres and in-memory implementations. The hosted
// backend is treated as a black box: equality/membership queries, range
// queries on created_at, and row-change subscriptions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tartanilla/admin-inbox/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the query and write surface of the remote store.
type Store interface {
	// ConversationsByParticipant returns conversations where the operator
	// is the assigned participant, optionally restricted to a status set.
	// An empty status set matches every status.
	ConversationsByParticipant(ctx context.Context, operatorID string, statuses []model.Status) ([]model.Conversation, error)

	// ProfilesByID resolves participant profiles in one round trip.
	// Missing ids are simply absent from the result map.
	ProfilesByID(ctx context.Context, ids []string) (map[string]model.Profile, error)

	// LatestMessages returns the most recent non-deleted message per
	// conversation, batched across all ids in one round trip.
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error)

	// UnreadCounts returns, per conversation, the count of non-deleted
	// unread messages not sent by the operator, in one round trip.
	UnreadCounts(ctx context.Context, conversationIDs []string, operatorID string) (map[string]int, error)

	// MessagesPage returns up to limit non-deleted messages for the
	// conversation, newest first, restricted to created_at < before when
	// before is non-nil.
	MessagesPage(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error)

	// InsertMessage creates a message with is_read=false and returns the
	// stored row including generated id and timestamp.
	InsertMessage(ctx context.Context, conversationID, senderID, body string) (model.Message, error)

	// MarkMessagesRead flips is_read on every unread message in the
	// conversation not sent by the operator and returns how many rows
	// changed. Calling it again is a no-op.
	MarkMessagesRead(ctx context.Context, conversationID, operatorID string) (int, error)

	// UpdateConversationStatus sets status and updated_at.
	UpdateConversationStatus(ctx context.Context, conversationID string, status model.Status) error
}

// Publisher emits row-change events after writes. A nil Publisher on a
// store implementation disables change notifications.
type Publisher interface {
	PublishChange(ctx context.Context, table, scope string, ev model.ChangeEvent) error
}

// ChangeFeed delivers row-change events for a table. An empty scope
// subscribes to all scopes of the table. The returned cancel function
// must be called on teardown; the channel closes when the subscription
// ends, whether by cancel or by transport failure.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, scope string) (<-chan model.ChangeEvent, func(), error)
}
