package inbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// MessageRepo fetches paginated transcript slices for one conversation at
// a time. The fetch runs newest-first so the "most recent N" query stays
// cheap; pages are re-ordered chronologically before returning.
type MessageRepo struct {
	store      store.Store
	tracker    *ReadTracker
	operatorID string
	pageSize   int
	timeout    time.Duration
	logger     *logger.Logger
}

// NewMessageRepo creates a message repository for one operator.
func NewMessageRepo(st store.Store, tracker *ReadTracker, operatorID string, pageSize int, timeout time.Duration, log *logger.Logger) *MessageRepo {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &MessageRepo{
		store:      st,
		tracker:    tracker,
		operatorID: operatorID,
		pageSize:   pageSize,
		timeout:    timeout,
		logger:     log,
	}
}

// PageSize returns the fixed page size.
func (r *MessageRepo) PageSize() int {
	return r.pageSize
}

// LoadPage returns one transcript slice, oldest first. A nil before loads
// the most recent page and, as a side effect, marks the conversation's
// unread peer messages read; a non-nil before loads strictly older
// messages without touching read state.
//
// HasMore is the page-full heuristic: a full page is assumed to have
// older messages behind it. The signal can be wrong exactly once, when
// the oldest page happens to be full; the follow-up fetch comes back
// empty and the approximation costs one round trip.
func (r *MessageRepo) LoadPage(ctx context.Context, conversationID string, before *time.Time) (model.MessagePage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.store.MessagesPage(ctx, conversationID, before, r.pageSize)
	if err != nil {
		metrics.MessagePagesTotal.WithLabelValues("error").Inc()
		return model.MessagePage{}, fmt.Errorf("load message page: %w", err)
	}
	metrics.MessagePagesTotal.WithLabelValues("ok").Inc()

	// Fetch order is newest-first; display order is chronological.
	messages := make([]model.Message, len(rows))
	for i, m := range rows {
		messages[len(rows)-1-i] = m
	}

	page := model.MessagePage{
		Messages: messages,
		HasMore:  len(rows) == r.pageSize,
	}

	if before == nil {
		if err := r.tracker.MarkConversationRead(ctx, conversationID); err != nil {
			// Read-state failure must not lose the loaded transcript.
			r.logger.Warn("mark-as-read failed after transcript load",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return page, nil
}
