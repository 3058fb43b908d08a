package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// ChannelState is the lifecycle state of one change-feed subscription.
type ChannelState int32

const (
	StateIdle ChannelState = iota
	StateSubscribing
	StateActive
	StateClosed
	StateReconnectPending
)

func (s ChannelState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateReconnectPending:
		return "reconnect-pending"
	default:
		return "idle"
	}
}

// Reconciler consumes row-change events for the operator's conversations
// and messages and decides, per event, whether to ignore it, patch the
// rendered state in place, or trigger a full conversation reload. Patching
// happens only when the event's scope is provably limited to
// currently-rendered data; everything else reloads.
type Reconciler struct {
	feed        store.ChangeFeed
	ctrl        *Controller
	logger      *logger.Logger
	delay       time.Duration
	maxAttempts int // 0 means retry forever

	mu     sync.Mutex
	states map[string]ChannelState
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewReconciler creates a reconciler bound to one controller's inbox.
func NewReconciler(feed store.ChangeFeed, ctrl *Controller, delay time.Duration, maxAttempts int, log *logger.Logger) *Reconciler {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Reconciler{
		feed:        feed,
		ctrl:        ctrl,
		logger:      log.WithOperator(ctrl.OperatorID()),
		delay:       delay,
		maxAttempts: maxAttempts,
		states:      make(map[string]ChannelState),
		done:        make(chan struct{}),
	}
}

// Start opens the conversation and message subscriptions and begins
// consuming events. It returns immediately; consumption runs until Stop.
func (r *Reconciler) Start(ctx context.Context) {
	// Conversation changes are scoped to this operator; message changes
	// arrive unscoped and are filtered against the loaded set, because
	// message rows carry no operator column.
	r.wg.Add(2)
	go r.run(ctx, model.TableConversations, r.ctrl.OperatorID())
	go r.run(ctx, model.TableMessages, "")
}

// Stop unsubscribes every channel and waits for consumers to drain.
// Idempotent; must be called when the inbox is torn down so re-entry does
// not deliver duplicate events.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
}

// State returns the subscription state for a table, for health reporting.
func (r *Reconciler) State(table string) ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[table]
}

func (r *Reconciler) setState(table string, s ChannelState) {
	r.mu.Lock()
	r.states[table] = s
	r.mu.Unlock()
}

func (r *Reconciler) run(ctx context.Context, table, scope string) {
	defer r.wg.Done()

	attempts := 0
	for {
		r.setState(table, StateSubscribing)
		ch, cancel, err := r.feed.Subscribe(ctx, table, scope)
		if err != nil {
			r.logger.Warn("change-feed subscribe failed",
				zap.String("table", table), zap.Error(err))
		} else {
			attempts = 0
			r.setState(table, StateActive)
			metrics.SubscriptionsActive.Inc()
			r.consume(ctx, table, ch)
			cancel()
			metrics.SubscriptionsActive.Dec()
		}
		r.setState(table, StateClosed)

		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		attempts++
		if r.maxAttempts > 0 && attempts > r.maxAttempts {
			r.logger.Error("change-feed resubscription gave up",
				zap.String("table", table), zap.Int("attempts", attempts-1))
			r.ctrl.emit(Event{Kind: EventSubscriptionLost, Table: table})
			return
		}

		// Fixed-delay retry: the transport multiplexes connections and
		// handles its own backoff, so a simple periodic attempt suffices.
		r.setState(table, StateReconnectPending)
		metrics.ResubscribesTotal.WithLabelValues(table).Inc()
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(r.delay):
		}
	}
}

func (r *Reconciler) consume(ctx context.Context, table string, ch <-chan model.ChangeEvent) {
	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch table {
			case model.TableConversations:
				r.handleConversationEvent(ctx, ev)
			case model.TableMessages:
				r.handleMessageEvent(ctx, ev)
			}
		}
	}
}

// handleConversationEvent reloads the conversation set; reload cost is
// bounded by the operator's own conversation count, so incremental
// patching is not worth its complexity here. A status change on the
// active conversation is additionally patched in place so the header and
// compose state update without waiting on the reload.
func (r *Reconciler) handleConversationEvent(ctx context.Context, ev model.ChangeEvent) {
	decision := "reload"

	if ev.Type == model.ChangeUpdate {
		if conv, err := ev.DecodeConversation(); err == nil && conv.ID == r.ctrl.ActiveConversationID() {
			old, hadOld := ev.DecodeOldConversation()
			if !hadOld || old.Status != conv.Status {
				r.ctrl.patchActiveStatus(conv.Status)
				decision = "patch_and_reload"
			}
		}
	}

	r.reload(ctx)
	metrics.RecordRealtimeEvent(model.TableConversations, string(ev.Type), decision)
}

func (r *Reconciler) handleMessageEvent(ctx context.Context, ev model.ChangeEvent) {
	msg, err := ev.DecodeMessage()
	if err != nil {
		r.logger.Warn("undecodable message event", zap.Error(err))
		metrics.RecordRealtimeEvent(model.TableMessages, string(ev.Type), "ignore")
		return
	}

	decision := "ignore"
	switch ev.Type {
	case model.ChangeInsert:
		decision = r.handleMessageInsert(ctx, msg)
	case model.ChangeUpdate:
		decision = r.handleMessageUpdate(ctx, msg)
	case model.ChangeDelete:
		if r.belongsToInbox(msg.ConversationID) {
			r.reload(ctx)
			decision = "reload"
		}
	}
	metrics.RecordRealtimeEvent(model.TableMessages, string(ev.Type), decision)
}

// handleMessageInsert appends a peer message to the open transcript
// straight from the event payload and marks it read; inserts anywhere
// else in this inbox reload the conversation set so badges and ordering
// refresh.
func (r *Reconciler) handleMessageInsert(ctx context.Context, msg model.Message) string {
	if msg.IsDeleted {
		return "ignore"
	}
	if msg.ConversationID == r.ctrl.ActiveConversationID() && msg.SenderID != r.ctrl.OperatorID() {
		if r.ctrl.appendIncoming(ctx, msg) {
			return "patch"
		}
	}
	if !r.belongsToInbox(msg.ConversationID) {
		return "ignore"
	}
	r.reload(ctx)
	return "reload"
}

// handleMessageUpdate patches the read indicator in place when the peer
// reads one of the operator's messages in the open transcript. A
// soft-delete update reloads instead, since rendered previews may change.
func (r *Reconciler) handleMessageUpdate(ctx context.Context, msg model.Message) string {
	if msg.IsDeleted {
		if !r.belongsToInbox(msg.ConversationID) {
			return "ignore"
		}
		r.reload(ctx)
		return "reload"
	}
	if msg.ConversationID == r.ctrl.ActiveConversationID() && msg.SenderID == r.ctrl.OperatorID() {
		r.ctrl.patchMessageRead(msg)
		return "patch"
	}
	return "ignore"
}

// belongsToInbox reports whether the conversation is part of this
// operator's loaded set. The message feed is unscoped, so events for
// other operators' conversations must be dropped here.
func (r *Reconciler) belongsToInbox(conversationID string) bool {
	if conversationID == r.ctrl.ActiveConversationID() {
		return true
	}
	_, ok := r.ctrl.convs.CachedByID(conversationID)
	return ok
}

func (r *Reconciler) reload(ctx context.Context) {
	if _, err := r.ctrl.LoadConversations(ctx); err != nil && !errors.Is(err, ErrStaleLoad) {
		r.logger.Warn("reconciler-triggered reload failed", zap.Error(err))
	}
}
