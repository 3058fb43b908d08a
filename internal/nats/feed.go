package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
)

const (
	// SubjectPrefix is the prefix for all change-feed subjects.
	SubjectPrefix = "inbox.chg"
)

// Feed publishes and delivers row-change events over NATS subjects of the
// form inbox.chg.<table>.<scope>. Conversation events are scoped by
// operator id, message events by conversation id.
type Feed struct {
	client *Client
}

// NewFeed creates a change feed on an established connection.
func NewFeed(client *Client) *Feed {
	return &Feed{client: client}
}

// ChangeSubject returns the subject for one table/scope pair.
func ChangeSubject(table, scope string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, table, sanitize(scope))
}

func sanitize(scope string) string {
	// Subject tokens cannot contain whitespace or separators.
	return strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_").Replace(scope)
}

// PublishChange implements store.Publisher.
func (f *Feed) PublishChange(ctx context.Context, table, scope string, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := f.client.Conn().Publish(ChangeSubject(table, scope), data); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe implements store.ChangeFeed. An empty scope subscribes to all
// scopes of the table. The returned channel closes when the subscription
// ends; the cancel function is idempotent.
func (f *Feed) Subscribe(ctx context.Context, table, scope string) (<-chan model.ChangeEvent, func(), error) {
	subject := ChangeSubject(table, scope)
	if scope == "" {
		subject = fmt.Sprintf("%s.%s.>", SubjectPrefix, table)
	}

	ch := make(chan model.ChangeEvent, 64)
	var mu sync.Mutex
	closed := false

	sub, err := f.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var ev model.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			f.client.logger.Warn("dropping malformed change event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			f.client.logger.Warn("change feed consumer lagging, dropping event",
				zap.String("subject", msg.Subject))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	cancel := func() {
		_ = sub.Unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel, nil
}
