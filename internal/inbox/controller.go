package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

var (
	// ErrNoActiveConversation is returned by transcript operations when
	// nothing is selected.
	ErrNoActiveConversation = errors.New("no active conversation")
	// ErrConversationClosed rejects a send on a resolved or closed
	// conversation locally, before any remote call.
	ErrConversationClosed = errors.New("conversation is closed to new messages")
	// ErrConversationNotFound is returned when the id is not in the
	// loaded conversation set.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Options are the tunables for one controller instance.
type Options struct {
	PageSize      int
	Debounce      time.Duration
	RemoteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 10 * time.Second
	}
	return o
}

// Controller is one operator's inbox. It owns the active-conversation
// selection, the current filters, and the transcript pagination cursor,
// and it is the only component that emits events to presentation
// observers. Each operator gets an independent instance.
type Controller struct {
	operatorID string
	store      store.Store
	convs      *ConversationRepo
	msgs       *MessageRepo
	tracker    *ReadTracker
	logger     *logger.Logger
	debouncer  *Debouncer
	timeout    time.Duration

	mu         sync.Mutex
	activeID   string
	active     model.Conversation
	filter     model.Filter
	transcript []model.Message
	cursor     *time.Time // creation time of the oldest loaded message
	hasMore    bool

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// NewController builds a controller and its repositories for one operator.
func NewController(st store.Store, operatorID string, opts Options, log *logger.Logger) *Controller {
	opts = opts.withDefaults()
	log = log.WithOperator(operatorID)

	tracker := NewReadTracker(st, operatorID, log)
	c := &Controller{
		operatorID: operatorID,
		store:      st,
		convs:      NewConversationRepo(st, operatorID, opts.RemoteTimeout, log),
		msgs:       NewMessageRepo(st, tracker, operatorID, opts.PageSize, opts.RemoteTimeout, log),
		tracker:    tracker,
		logger:     log,
		debouncer:  NewDebouncer(opts.Debounce),
		timeout:    opts.RemoteTimeout,
		observers:  make(map[int]Observer),
	}
	tracker.SetNotifier(c.emit)
	return c
}

// OperatorID returns the operator this inbox belongs to.
func (c *Controller) OperatorID() string {
	return c.operatorID
}

// Subscribe registers an observer and returns its unregister function.
func (c *Controller) Subscribe(obs Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = obs
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Controller) emit(ev Event) {
	c.obsMu.Lock()
	obs := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		obs = append(obs, o)
	}
	c.obsMu.Unlock()

	for _, o := range obs {
		o(ev)
	}
}

// Filter returns the current filter state.
func (c *Controller) Filter() model.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// LoadConversations reloads the conversation set with the current
// filters and emits conversations-loaded. A load superseded by a newer
// one returns ErrStaleLoad and emits nothing.
func (c *Controller) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()

	convs, err := c.convs.Load(ctx, f.Role, f.Status)
	if errors.Is(err, ErrStaleLoad) {
		return nil, err
	}
	if err != nil {
		c.emit(Event{Kind: EventConversationsLoaded, Conversations: []model.Conversation{}, LoadFailed: true})
		return []model.Conversation{}, err
	}

	c.emit(Event{Kind: EventConversationsLoaded, Conversations: convs})

	// Query filtering stays in-memory over the fresh set.
	if f.Query != "" {
		c.emitFiltered(f)
	}
	return convs, nil
}

// ListConversations replaces the filter state, loads, and returns the
// set with the in-memory predicates applied.
func (c *Controller) ListConversations(ctx context.Context, f model.Filter) ([]model.Conversation, error) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()

	convs, err := c.LoadConversations(ctx)
	if err != nil {
		return convs, err
	}
	return ApplyFilter(convs, f), nil
}

// Conversations returns the cached set with the current in-memory
// filters applied, no remote round trip.
func (c *Controller) Conversations() []model.Conversation {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()
	return ApplyFilter(c.convs.Cached(), f)
}

func (c *Controller) emitFiltered(f model.Filter) {
	filtered := ApplyFilter(c.convs.Cached(), f)
	c.emit(Event{Kind: EventConversationsFiltered, Conversations: filtered, Filter: f})
}

// ChangeRoleFilter updates the role filter and reloads with both current
// filters.
func (c *Controller) ChangeRoleFilter(ctx context.Context, role string) ([]model.Conversation, error) {
	c.mu.Lock()
	c.filter.Role = role
	c.mu.Unlock()
	return c.LoadConversations(ctx)
}

// ChangeStatusFilter updates the status filter (single value or
// comma-set) and reloads with both current filters.
func (c *Controller) ChangeStatusFilter(ctx context.Context, status string) ([]model.Conversation, error) {
	c.mu.Lock()
	c.filter.Status = status
	c.mu.Unlock()
	return c.LoadConversations(ctx)
}

// ResetFilters clears all filter state. Filters reset only on explicit
// operator action, never implicitly.
func (c *Controller) ResetFilters(ctx context.Context) ([]model.Conversation, error) {
	c.mu.Lock()
	c.filter = model.Filter{}
	c.mu.Unlock()
	return c.LoadConversations(ctx)
}

// SearchInput feeds one keystroke's worth of query text. Filtering runs
// only after the debounce quiet period. A cleared query re-issues a
// fresh repository load so the view reflects remote changes that
// happened while the operator was typing.
func (c *Controller) SearchInput(query string) {
	c.mu.Lock()
	c.filter.Query = query
	c.mu.Unlock()

	c.debouncer.Trigger(func() {
		c.runSearch(query)
	})
}

func (c *Controller) runSearch(query string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	if c.filter.Query != query {
		// A newer keystroke superseded this callback.
		c.mu.Unlock()
		return
	}
	f := c.filter
	c.mu.Unlock()

	if query == "" {
		if _, err := c.LoadConversations(ctx); err != nil && !errors.Is(err, ErrStaleLoad) {
			c.logger.Warn("reload after cleared search failed", zap.Error(err))
		}
		return
	}
	c.emitFiltered(f)
}

// SelectConversation makes id the active conversation: resets the
// pagination cursor, loads the first transcript page (which marks unread
// peer messages read), and emits conversation-selected with the peer,
// subject, and status for header rendering.
func (c *Controller) SelectConversation(ctx context.Context, id string) (model.ConversationView, error) {
	conv, ok := c.convs.CachedByID(id)
	if !ok {
		return model.ConversationView{}, ErrConversationNotFound
	}

	c.mu.Lock()
	c.activeID = id
	c.active = conv
	c.cursor = nil
	c.hasMore = false
	c.transcript = nil
	c.mu.Unlock()

	page, err := c.msgs.LoadPage(ctx, id, nil)
	if err != nil {
		// Selection sticks; the transcript renders empty.
		c.emit(Event{Kind: EventConversationSelected, Conversation: &conv, CanSend: !conv.Status.Terminal()})
		return model.ConversationView{Conversation: conv, CanSend: !conv.Status.Terminal()}, err
	}

	conv.UnreadCount = 0

	c.mu.Lock()
	c.transcript = page.Messages
	c.hasMore = page.HasMore
	if len(page.Messages) > 0 {
		oldest := page.Messages[0].CreatedAt
		c.cursor = &oldest
	}
	c.active = conv
	c.mu.Unlock()

	c.emit(Event{Kind: EventConversationSelected, Conversation: &conv, CanSend: !conv.Status.Terminal()})

	return model.ConversationView{
		Conversation: conv,
		Messages:     page.Messages,
		HasMore:      page.HasMore,
		CanSend:      !conv.Status.Terminal(),
	}, nil
}

// LoadOlderMessages pages backward and prepends the slice to the
// transcript. A non-nil before overrides the internal cursor and serves
// a client-driven re-fetch (retry after a dropped response, a second
// tab) as a plain window read: the transcript and cursor are left
// untouched. Read state is untouched either way.
func (c *Controller) LoadOlderMessages(ctx context.Context, before *time.Time) (model.MessagePage, error) {
	c.mu.Lock()
	id := c.activeID
	cursor := c.cursor
	c.mu.Unlock()

	if id == "" {
		return model.MessagePage{}, ErrNoActiveConversation
	}
	if before != nil {
		return c.msgs.LoadPage(ctx, id, before)
	}
	if cursor == nil {
		return model.MessagePage{}, nil
	}

	page, err := c.msgs.LoadPage(ctx, id, cursor)
	if err != nil {
		return model.MessagePage{}, err
	}

	c.mu.Lock()
	if c.activeID == id {
		c.transcript = append(append([]model.Message{}, page.Messages...), c.transcript...)
		c.hasMore = page.HasMore
		if len(page.Messages) > 0 {
			oldest := page.Messages[0].CreatedAt
			c.cursor = &oldest
		}
	}
	c.mu.Unlock()
	return page, nil
}

// CanSend reports whether the compose input is enabled: a conversation
// is selected and its status is not terminal.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID != "" && !c.active.Status.Terminal()
}

// SendMessage sends to the active conversation. A send while CanSend is
// false is rejected locally with no remote call. On remote failure the
// caller keeps the composed text and retries.
func (c *Controller) SendMessage(ctx context.Context, body string) (model.Message, error) {
	c.mu.Lock()
	id := c.activeID
	status := c.active.Status
	c.mu.Unlock()

	if id == "" {
		return model.Message{}, ErrNoActiveConversation
	}
	if status.Terminal() {
		return model.Message{}, ErrConversationClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.store.InsertMessage(ctx, id, c.operatorID, body)
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSentTotal.Inc()

	c.mu.Lock()
	if c.activeID == id {
		c.transcript = append(c.transcript, msg)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageReceived, Message: &msg})
	return msg, nil
}

// UpdateConversationStatus issues the remote status update, appends a
// local system notice to the open transcript (a best-effort echo, not
// persisted), and reloads the conversation set.
func (c *Controller) UpdateConversationStatus(ctx context.Context, id string, status model.Status) error {
	if status == model.StatusNone || !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	updateCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.UpdateConversationStatus(updateCtx, id, status); err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	c.mu.Lock()
	isActive := c.activeID == id
	if isActive {
		c.active.Status = status
		notice := model.Message{
			ID:             "notice-" + id + "-" + string(status),
			ConversationID: id,
			SenderID:       model.SystemSender,
			Body:           "This conversation was marked as " + string(status) + ".",
			CreatedAt:      time.Now(),
			IsRead:         true,
		}
		c.transcript = append(c.transcript, notice)
	}
	canSend := isActive && !status.Terminal()
	c.mu.Unlock()

	c.emit(Event{Kind: EventConversationStatusChanged, ConversationID: id, Status: status, CanSend: canSend})

	if _, err := c.LoadConversations(ctx); err != nil && !errors.Is(err, ErrStaleLoad) {
		c.logger.Warn("conversation reload after status update failed", zap.Error(err))
	}
	return nil
}

// ActiveConversationID returns the current selection, or "".
func (c *Controller) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// ActiveConversation returns the active conversation header data.
func (c *Controller) ActiveConversation() (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.activeID != ""
}

// Transcript returns a copy of the currently displayed messages.
func (c *Controller) Transcript() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// TotalUnread sums unread counts over the cached conversation set.
func (c *Controller) TotalUnread(ctx context.Context) (int, error) {
	return c.tracker.TotalUnread(ctx, c.convs.Cached())
}

// appendIncoming handles a peer message for the active conversation
// arriving over the change feed: the content comes from the event
// payload, so no fetch round trip happens. The message is appended and
// immediately marked read.
func (c *Controller) appendIncoming(ctx context.Context, msg model.Message) bool {
	c.mu.Lock()
	if c.activeID != msg.ConversationID {
		c.mu.Unlock()
		return false
	}
	for _, existing := range c.transcript {
		if existing.ID == msg.ID {
			c.mu.Unlock()
			return true
		}
	}
	msg.IsRead = true
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageReceived, Message: &msg})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.tracker.MarkConversationRead(ctx, msg.ConversationID); err != nil {
		c.logger.Warn("mark-as-read for incoming message failed", zap.Error(err))
	}
	return true
}

// patchActiveStatus patches the displayed status in place without a
// transcript reload, for status changes pushed while the conversation is
// open.
func (c *Controller) patchActiveStatus(status model.Status) {
	c.mu.Lock()
	if c.activeID == "" {
		c.mu.Unlock()
		return
	}
	c.active.Status = status
	id := c.activeID
	canSend := !status.Terminal()
	c.mu.Unlock()

	c.emit(Event{Kind: EventConversationStatusChanged, ConversationID: id, Status: status, CanSend: canSend})
}

// patchMessageRead flips the read indicator on one of the operator's own
// transcript messages in place.
func (c *Controller) patchMessageRead(msg model.Message) {
	c.mu.Lock()
	patched := false
	for i := range c.transcript {
		if c.transcript[i].ID == msg.ID && c.transcript[i].SenderID == c.operatorID {
			if !c.transcript[i].IsRead {
				c.transcript[i].IsRead = true
				patched = true
			}
			break
		}
	}
	c.mu.Unlock()

	if patched {
		msg.IsRead = true
		c.emit(Event{Kind: EventMessageRead, Message: &msg})
	}
}

// Close releases controller resources. Observers registered through
// Subscribe stay valid but receive nothing further.
func (c *Controller) Close() {
	c.debouncer.Stop()
}
