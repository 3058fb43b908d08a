package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
)

func startReconciler(t *testing.T, mem *store.Memory, ctrl *Controller) *Reconciler {
	t.Helper()
	rec := NewReconciler(mem, ctrl, 20*time.Millisecond, 0, logger.NewNop())
	rec.Start(context.Background())
	t.Cleanup(rec.Stop)

	waitForState(t, rec, model.TableConversations, StateActive)
	waitForState(t, rec, model.TableMessages, StateActive)
	return rec
}

func waitForState(t *testing.T, rec *Reconciler, table string, want ChannelState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.State(table) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s subscription never reached %s (got %s)", table, want, rec.State(table))
}

func waitForTranscript(t *testing.T, ctrl *Controller, n int) []model.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr := ctrl.Transcript(); len(tr) == n {
			return tr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transcript stuck at %d messages, want %d", len(ctrl.Transcript()), n)
	return nil
}

func TestReconcilerAppendsIncomingMessage(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	startReconciler(t, mem, ctrl)
	before := len(ctrl.Transcript())

	if _, err := mem.InsertMessage(ctx, "conv-a", "peer-a", "kumusta"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	transcript := waitForTranscript(t, ctrl, before+1)
	last := transcript[len(transcript)-1]
	if last.Body != "kumusta" || last.SenderID != "peer-a" {
		t.Errorf("appended message = %+v", last)
	}
	if !last.IsRead {
		t.Error("incoming message on the open transcript not marked read")
	}

	// The store's copy is marked read too, so the badge stays at zero.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		counts, err := mem.UnreadCounts(ctx, []string{"conv-a"}, testOperator)
		if err != nil {
			t.Fatalf("UnreadCounts: %v", err)
		}
		if counts["conv-a"] == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("incoming message never marked read remotely")
}

func TestReconcilerDeduplicatesAppendedMessage(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	startReconciler(t, mem, ctrl)
	before := len(ctrl.Transcript())

	msg, err := mem.InsertMessage(ctx, "conv-a", "peer-a", "kumusta")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	waitForTranscript(t, ctrl, before+1)

	// A duplicate delivery of the same row must not append twice.
	if !ctrl.appendIncoming(ctx, msg) {
		t.Error("duplicate append reported as not handled")
	}
	if got := len(ctrl.Transcript()); got != before+1 {
		t.Errorf("transcript = %d after duplicate, want %d", got, before+1)
	}
}

func TestReconcilerReloadsOnBackgroundInsert(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	startReconciler(t, mem, ctrl)
	loadsBefore := len(sink.ofKind(EventConversationsLoaded))

	// Insert into a cached but not active conversation.
	if _, err := mem.InsertMessage(ctx, "conv-b", "peer-b", "isa pa"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		loaded := sink.ofKind(EventConversationsLoaded)
		if len(loaded) > loadsBefore {
			latest := loaded[len(loaded)-1]
			for _, c := range latest.Conversations {
				if c.ID == "conv-b" && c.UnreadCount == 1 && c.LastMessage == "isa pa" {
					return
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("background insert never refreshed the conversation set")
}

func TestReconcilerIgnoresForeignConversation(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	startReconciler(t, mem, ctrl)
	loadsBefore := len(sink.ofKind(EventConversationsLoaded))

	// The message feed is unscoped; another operator's traffic arrives
	// here too and must be dropped.
	if _, err := mem.InsertMessage(ctx, "conv-other", "peer-a", "hindi sa akin"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(sink.ofKind(EventConversationsLoaded)); got != loadsBefore {
		t.Errorf("foreign insert triggered %d reloads", got-loadsBefore)
	}
}

func TestReconcilerPatchesReadIndicator(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	startReconciler(t, mem, ctrl)

	// The peer opens the chat on their side, flipping the operator's
	// message m2 to read.
	if _, err := mem.MarkMessagesRead(ctx, "conv-a", "peer-a"); err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}

	ev := sink.waitFor(t, EventMessageRead, time.Second)
	if ev.Message == nil || ev.Message.ID != "m2" {
		t.Fatalf("read event = %+v", ev.Message)
	}

	for _, m := range ctrl.Transcript() {
		if m.ID == "m2" && !m.IsRead {
			t.Error("read indicator not patched in transcript")
		}
	}
}

func TestReconcilerPatchesActiveStatus(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	startReconciler(t, mem, ctrl)

	// Another session resolves the open conversation.
	if err := mem.UpdateConversationStatus(ctx, "conv-a", model.StatusResolved); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}

	ev := sink.waitFor(t, EventConversationStatusChanged, time.Second)
	if ev.ConversationID != "conv-a" || ev.Status != model.StatusResolved {
		t.Fatalf("status event = %+v", ev)
	}
	if ev.CanSend {
		t.Error("compose left enabled after remote resolve")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !ctrl.CanSend() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("CanSend still true after remote resolve")
}

func TestReconcilerResubscribesAfterDrop(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	rec := startReconciler(t, mem, ctrl)
	before := len(ctrl.Transcript())

	mem.DropSubscriptions()

	// Both loops notice the closed channels and come back.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && mem.SubscriberCount() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if mem.SubscriberCount() < 2 {
		t.Fatalf("only %d subscriptions restored", mem.SubscriberCount())
	}
	waitForState(t, rec, model.TableMessages, StateActive)

	// Events delivered after recovery still reach the transcript.
	if _, err := mem.InsertMessage(ctx, "conv-a", "peer-a", "bumalik na"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	waitForTranscript(t, ctrl, before+1)
}

func TestReconcilerStopIdempotent(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	rec := NewReconciler(mem, ctrl, 20*time.Millisecond, 0, logger.NewNop())
	rec.Start(context.Background())
	waitForState(t, rec, model.TableMessages, StateActive)

	rec.Stop()
	rec.Stop()
}

// failingFeed refuses every subscription, driving the retry cutoff.
type failingFeed struct{}

func (failingFeed) Subscribe(ctx context.Context, table, scope string) (<-chan model.ChangeEvent, func(), error) {
	return nil, nil, errors.New("no route to broker")
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	rec := NewReconciler(failingFeed{}, ctrl, 5*time.Millisecond, 2, logger.NewNop())
	rec.Start(context.Background())
	defer rec.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		lost := sink.ofKind(EventSubscriptionLost)
		// Both the conversations and messages loops give up.
		if len(lost) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d subscription-lost events, want 2", len(sink.ofKind(EventSubscriptionLost)))
}
