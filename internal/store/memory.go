package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tartanilla/admin-inbox/internal/model"
)

// Memory is an in-memory Store and ChangeFeed, used by tests and local
// development. Writes deliver change events synchronously to in-process
// subscribers.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // keyed by conversation id
	profiles      map[string]model.Profile

	subMu   sync.Mutex
	subs    map[int]*memorySub
	nextSub int

	failErr error
}

type memorySub struct {
	table string
	scope string
	ch    chan model.ChangeEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]*model.Message),
		profiles:      make(map[string]model.Profile),
		subs:          make(map[int]*memorySub),
	}
}

// SetFailure makes every subsequent query and write return err. Pass nil
// to restore normal behavior.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// SeedProfile inserts a profile without emitting events.
func (m *Memory) SeedProfile(p model.Profile) {
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
}

// SeedConversation inserts a conversation row without emitting events.
func (m *Memory) SeedConversation(c model.Conversation) {
	m.mu.Lock()
	row := c
	m.conversations[c.ID] = &row
	m.mu.Unlock()
}

// SeedMessage inserts a message row without emitting events.
func (m *Memory) SeedMessage(msg model.Message) {
	m.mu.Lock()
	row := msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &row)
	m.mu.Unlock()
}

func (m *Memory) ConversationsByParticipant(ctx context.Context, operatorID string, statuses []model.Status) ([]model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var out []model.Conversation
	for _, c := range m.conversations {
		if c.OperatorID != operatorID {
			continue
		}
		if len(statuses) > 0 && !statusIn(c.Status, statuses) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *Memory) ProfilesByID(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	out := make(map[string]model.Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	out := make(map[string]model.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		var latest *model.Message
		for _, msg := range m.messages[id] {
			if msg.IsDeleted {
				continue
			}
			if latest == nil || msg.CreatedAt.After(latest.CreatedAt) {
				latest = msg
			}
		}
		if latest != nil {
			out[id] = *latest
		}
	}
	return out, nil
}

func (m *Memory) UnreadCounts(ctx context.Context, conversationIDs []string, operatorID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		n := 0
		for _, msg := range m.messages[id] {
			if msg.CountsAsUnread(operatorID) {
				n++
			}
		}
		out[id] = n
	}
	return out, nil
}

func (m *Memory) MessagesPage(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var rows []model.Message
	for _, msg := range m.messages[conversationID] {
		if msg.IsDeleted {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		rows = append(rows, *msg)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) InsertMessage(ctx context.Context, conversationID, senderID, body string) (model.Message, error) {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return model.Message{}, err
	}
	if _, ok := m.conversations[conversationID]; !ok {
		m.mu.Unlock()
		return model.Message{}, ErrNotFound
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	row := msg
	m.messages[conversationID] = append(m.messages[conversationID], &row)
	m.mu.Unlock()

	if ev, err := model.MessageChange(model.ChangeInsert, &msg, nil); err == nil {
		m.deliver(model.TableMessages, conversationID, ev)
	}
	return msg, nil
}

func (m *Memory) MarkMessagesRead(ctx context.Context, conversationID, operatorID string) (int, error) {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return 0, err
	}

	var changed []model.Message
	for _, msg := range m.messages[conversationID] {
		if msg.CountsAsUnread(operatorID) {
			msg.IsRead = true
			changed = append(changed, *msg)
		}
	}
	m.mu.Unlock()

	for i := range changed {
		old := changed[i]
		old.IsRead = false
		if ev, err := model.MessageChange(model.ChangeUpdate, &changed[i], &old); err == nil {
			m.deliver(model.TableMessages, conversationID, ev)
		}
	}
	return len(changed), nil
}

func (m *Memory) UpdateConversationStatus(ctx context.Context, conversationID string, status model.Status) error {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	c, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	old := *c
	c.Status = status
	c.UpdatedAt = time.Now()
	updated := *c
	m.mu.Unlock()

	if ev, err := model.ConversationChange(model.ChangeUpdate, &updated, &old); err == nil {
		m.deliver(model.TableConversations, updated.OperatorID, ev)
	}
	return nil
}

// Subscribe implements ChangeFeed. Events are delivered on a buffered
// channel; a slow consumer drops events rather than blocking writers.
func (m *Memory) Subscribe(ctx context.Context, table, scope string) (<-chan model.ChangeEvent, func(), error) {
	sub := &memorySub{
		table: table,
		scope: scope,
		ch:    make(chan model.ChangeEvent, 64),
	}

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if s, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(s.ch)
		}
		m.subMu.Unlock()
	}
	return sub.ch, cancel, nil
}

// SubscriberCount returns the number of open subscriptions. Used by
// reconciler tests to observe resubscription.
func (m *Memory) SubscriberCount() int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.subs)
}

// DropSubscriptions closes every open subscription channel, simulating a
// transport failure. Used by reconciler tests.
func (m *Memory) DropSubscriptions() {
	m.subMu.Lock()
	for id, s := range m.subs {
		delete(m.subs, id)
		close(s.ch)
	}
	m.subMu.Unlock()
}

func (m *Memory) deliver(table, scope string, ev model.ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, s := range m.subs {
		if s.table != table {
			continue
		}
		if s.scope != "" && s.scope != scope {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func statusIn(s model.Status, set []model.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
