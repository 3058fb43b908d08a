package inbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// ReadTracker marks messages read and answers unread counts for badge
// consumers. Read state is monotone: messages only ever go from unread
// to read.
type ReadTracker struct {
	store      store.Store
	operatorID string
	logger     *logger.Logger
	notify     func(Event)
}

// NewReadTracker creates a read tracker for one operator. notify may be
// nil when no one listens for read-state events.
func NewReadTracker(st store.Store, operatorID string, log *logger.Logger) *ReadTracker {
	return &ReadTracker{
		store:      st,
		operatorID: operatorID,
		logger:     log,
	}
}

// SetNotifier wires the sink that receives messages-marked-read events.
func (t *ReadTracker) SetNotifier(notify func(Event)) {
	t.notify = notify
}

// MarkConversationRead marks every unread message in the conversation not
// sent by the operator as read. Idempotent: a second call changes
// nothing and emits no event.
func (t *ReadTracker) MarkConversationRead(ctx context.Context, conversationID string) error {
	n, err := t.store.MarkMessagesRead(ctx, conversationID, t.operatorID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if n == 0 {
		return nil
	}

	metrics.MessagesMarkedReadTotal.Add(float64(n))
	t.logger.Debug("marked messages read",
		zap.String("conversation_id", conversationID), zap.Int("count", n))

	if t.notify != nil {
		t.notify(Event{Kind: EventMessagesMarkedRead, ConversationID: conversationID})
	}
	return nil
}

// UnreadCount returns the unread total for one conversation.
func (t *ReadTracker) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	counts, err := t.store.UnreadCounts(ctx, []string{conversationID}, t.operatorID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return counts[conversationID], nil
}

// TotalUnread sums unread counts across conversations, for the global
// badge.
func (t *ReadTracker) TotalUnread(ctx context.Context, conversations []model.Conversation) (int, error) {
	ids := make([]string, len(conversations))
	for i, c := range conversations {
		ids[i] = c.ID
	}
	counts, err := t.store.UnreadCounts(ctx, ids, t.operatorID)
	if err != nil {
		return 0, fmt.Errorf("total unread: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}
