package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
)

func newTestController(mem *store.Memory) *Controller {
	return NewController(mem, testOperator, Options{
		PageSize:      20,
		Debounce:      10 * time.Millisecond,
		RemoteTimeout: time.Second,
	}, logger.NewNop())
}

// eventSink collects controller events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) observe(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ofKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if evs := s.ofKind(kind); len(evs) > 0 {
			return evs[len(evs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event within %v", kind, timeout)
	return Event{}
}

func TestListConversationsAppliesFilters(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	convs, err := ctrl.ListConversations(context.Background(), model.Filter{Role: "driver"})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "conv-a" {
		t.Fatalf("got %v, want [conv-a]", ids(convs))
	}

	loaded := sink.ofKind(EventConversationsLoaded)
	if len(loaded) != 1 {
		t.Fatalf("got %d loaded events, want 1", len(loaded))
	}
}

func TestLoadConversationsFailureEmitsEmpty(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	mem.SetFailure(errors.New("network down"))

	convs, err := ctrl.LoadConversations(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(convs) != 0 {
		t.Errorf("got %d conversations, want 0", len(convs))
	}

	loaded := sink.ofKind(EventConversationsLoaded)
	if len(loaded) != 1 {
		t.Fatalf("got %d loaded events, want 1", len(loaded))
	}
	if !loaded[0].LoadFailed {
		t.Error("event missing load-failed flag")
	}
	if len(loaded[0].Conversations) != 0 {
		t.Error("failed load carried conversations")
	}
}

func TestSelectConversation(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}

	view, err := ctrl.SelectConversation(ctx, "conv-a")
	if err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	if ctrl.ActiveConversationID() != "conv-a" {
		t.Errorf("active = %q, want conv-a", ctrl.ActiveConversationID())
	}
	if len(view.Messages) != 3 {
		t.Errorf("transcript has %d messages, want 3", len(view.Messages))
	}
	if view.HasMore {
		t.Error("HasMore = true on a 3-message conversation")
	}
	if !view.CanSend {
		t.Error("CanSend = false on an open conversation")
	}
	if view.Conversation.UnreadCount != 0 {
		t.Errorf("unread = %d after select, want 0", view.Conversation.UnreadCount)
	}

	// Opening the conversation marks peer messages read remotely too.
	n, err := ctrl.TotalUnread(ctx)
	if err != nil {
		t.Fatalf("TotalUnread: %v", err)
	}
	if n != 0 {
		t.Errorf("total unread = %d after select, want 0", n)
	}

	selected := sink.ofKind(EventConversationSelected)
	if len(selected) != 1 {
		t.Fatalf("got %d selected events, want 1", len(selected))
	}
	if selected[0].Conversation == nil || selected[0].Conversation.ID != "conv-a" {
		t.Errorf("selected event conversation = %+v", selected[0].Conversation)
	}
}

func TestSelectConversationNotFound(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}

	_, err := ctrl.SelectConversation(ctx, "conv-other")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
	if ctrl.ActiveConversationID() != "" {
		t.Error("failed select left a conversation active")
	}
}

func TestSelectResetsCursor(t *testing.T) {
	mem := seedTranscript(t, 45)
	mem.SeedConversation(model.Conversation{
		ID: "conv-b", OperatorID: testOperator, ParticipantID: "peer-b",
		Status: model.StatusOpen,
	})
	mem.SeedProfile(model.Profile{ID: "peer-a", Name: "Maria", Role: "driver"})
	mem.SeedProfile(model.Profile{ID: "peer-b", Name: "Juan", Role: "tourist"})
	mem.SeedMessage(model.Message{
		ID: "b1", ConversationID: "conv-b", SenderID: "peer-b",
		Body: "hi", CreatedAt: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	})

	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}

	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("select conv-a: %v", err)
	}
	if _, err := ctrl.LoadOlderMessages(ctx, nil); err != nil {
		t.Fatalf("LoadOlderMessages: %v", err)
	}
	if len(ctrl.Transcript()) != 40 {
		t.Fatalf("transcript = %d after paging, want 40", len(ctrl.Transcript()))
	}

	// Switching conversations starts a fresh transcript and cursor.
	view, err := ctrl.SelectConversation(ctx, "conv-b")
	if err != nil {
		t.Fatalf("select conv-b: %v", err)
	}
	if len(view.Messages) != 1 {
		t.Errorf("conv-b transcript = %d, want 1", len(view.Messages))
	}
	if got := ctrl.Transcript(); len(got) != 1 || got[0].ID != "b1" {
		t.Errorf("transcript after switch = %v", got)
	}
}

func TestLoadOlderMessagesPrepends(t *testing.T) {
	mem := seedTranscript(t, 25)
	mem.SeedProfile(model.Profile{ID: "peer-a", Name: "Maria", Role: "driver"})
	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	page, err := ctrl.LoadOlderMessages(ctx, nil)
	if err != nil {
		t.Fatalf("LoadOlderMessages: %v", err)
	}
	if len(page.Messages) != 5 {
		t.Fatalf("older page = %d messages, want 5", len(page.Messages))
	}

	transcript := ctrl.Transcript()
	if len(transcript) != 25 {
		t.Fatalf("transcript = %d, want 25", len(transcript))
	}
	if transcript[0].ID != "m000" || transcript[24].ID != "m024" {
		t.Errorf("transcript spans %s..%s, want m000..m024",
			transcript[0].ID, transcript[24].ID)
	}
	for i := 1; i < len(transcript); i++ {
		if transcript[i].CreatedAt.Before(transcript[i-1].CreatedAt) {
			t.Fatalf("transcript out of order at %d", i)
		}
	}
}

func TestLoadOlderMessagesRequiresSelection(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	_, err := ctrl.LoadOlderMessages(context.Background(), nil)
	if !errors.Is(err, ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
}

func TestLoadOlderMessagesExplicitCursor(t *testing.T) {
	mem := seedTranscript(t, 25)
	mem.SeedProfile(model.Profile{ID: "peer-a", Name: "Maria", Role: "driver"})
	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-a"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	// A far-future cursor re-fetches the newest window, as a client
	// retrying a dropped response would.
	future := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	page, err := ctrl.LoadOlderMessages(ctx, &future)
	if err != nil {
		t.Fatalf("LoadOlderMessages: %v", err)
	}
	if len(page.Messages) != 20 {
		t.Fatalf("got %d messages, want 20", len(page.Messages))
	}
	if page.Messages[0].ID != "m005" || page.Messages[19].ID != "m024" {
		t.Errorf("window spans %s..%s, want m005..m024",
			page.Messages[0].ID, page.Messages[19].ID)
	}

	// The re-fetch is a plain window read: internal state is untouched,
	// so cursor paging afterwards still returns the oldest slice.
	if got := len(ctrl.Transcript()); got != 20 {
		t.Errorf("transcript = %d after window read, want 20", got)
	}
	older, err := ctrl.LoadOlderMessages(ctx, nil)
	if err != nil {
		t.Fatalf("cursor page: %v", err)
	}
	if len(older.Messages) != 5 {
		t.Fatalf("cursor page = %d messages, want 5", len(older.Messages))
	}
	if older.Messages[0].ID != "m000" {
		t.Errorf("cursor page starts at %s, want m000", older.Messages[0].ID)
	}
}

func TestSendMessage(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
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

	msg, err := ctrl.SendMessage(ctx, "on my way")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.SenderID != testOperator || msg.Body != "on my way" {
		t.Errorf("message = %+v", msg)
	}

	transcript := ctrl.Transcript()
	if transcript[len(transcript)-1].ID != msg.ID {
		t.Error("sent message not appended to transcript")
	}

	received := sink.ofKind(EventMessageReceived)
	if len(received) != 1 || received[0].Message.ID != msg.ID {
		t.Errorf("message-received events = %+v", received)
	}
}

func TestSendMessageRejectedLocallyWhenTerminal(t *testing.T) {
	mem := seedInbox(t)
	ctrl := newTestController(mem)
	defer ctrl.Close()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if _, err := ctrl.SelectConversation(ctx, "conv-c"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if ctrl.CanSend() {
		t.Fatal("CanSend = true on a closed conversation")
	}

	// If the rejection reached the store this failure would surface
	// instead of ErrConversationClosed.
	mem.SetFailure(errors.New("store must not be called"))
	defer mem.SetFailure(nil)

	_, err := ctrl.SendMessage(ctx, "too late")
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("err = %v, want ErrConversationClosed", err)
	}
}

func TestSendMessageNoSelection(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	_, err := ctrl.SendMessage(context.Background(), "hello")
	if !errors.Is(err, ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
}

func TestSendMessageRemoteFailureKeepsTranscript(t *testing.T) {
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
	before := len(ctrl.Transcript())

	mem.SetFailure(errors.New("insert failed"))
	if _, err := ctrl.SendMessage(ctx, "lost"); err == nil {
		t.Fatal("expected send failure")
	}
	mem.SetFailure(nil)

	if got := len(ctrl.Transcript()); got != before {
		t.Errorf("transcript = %d after failed send, want %d", got, before)
	}
}

func TestUpdateConversationStatus(t *testing.T) {
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
	before := len(ctrl.Transcript())

	if err := ctrl.UpdateConversationStatus(ctx, "conv-a", model.StatusResolved); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}

	// Compose is disabled and a system notice trails the transcript.
	if ctrl.CanSend() {
		t.Error("CanSend = true after resolving")
	}
	transcript := ctrl.Transcript()
	if len(transcript) != before+1 {
		t.Fatalf("transcript = %d, want %d", len(transcript), before+1)
	}
	notice := transcript[len(transcript)-1]
	if notice.SenderID != model.SystemSender {
		t.Errorf("notice sender = %q, want system", notice.SenderID)
	}
	if !strings.Contains(notice.Body, "resolved") {
		t.Errorf("notice body = %q", notice.Body)
	}

	changed := sink.ofKind(EventConversationStatusChanged)
	if len(changed) != 1 {
		t.Fatalf("got %d status-changed events, want 1", len(changed))
	}
	if changed[0].Status != model.StatusResolved || changed[0].CanSend {
		t.Errorf("status event = %+v", changed[0])
	}

	// The set reloads so the list reflects the new status.
	if len(sink.ofKind(EventConversationsLoaded)) < 2 {
		t.Error("no conversation reload after status update")
	}

	// Persisted too.
	convs, err := mem.ConversationsByParticipant(ctx, testOperator, []model.Status{model.StatusResolved})
	if err != nil {
		t.Fatalf("ConversationsByParticipant: %v", err)
	}
	found := false
	for _, c := range convs {
		if c.ID == "conv-a" {
			found = true
		}
	}
	if !found {
		t.Error("status update not persisted")
	}
}

func TestUpdateConversationStatusInvalid(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	if err := ctrl.UpdateConversationStatus(context.Background(), "conv-a", "archived"); err == nil {
		t.Fatal("expected invalid-status error")
	}
}

func TestSearchInputDebounced(t *testing.T) {
	ctrl := newTestController(seedInbox(t))
	defer ctrl.Close()

	sink := &eventSink{}
	unsub := ctrl.Subscribe(sink.observe)
	defer unsub()

	ctx := context.Background()
	if _, err := ctrl.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}

	// Simulated typing; only the final query should run.
	for _, q := range []string{"m", "ma", "mar", "maria"} {
		ctrl.SearchInput(q)
		time.Sleep(2 * time.Millisecond)
	}

	ev := sink.waitFor(t, EventConversationsFiltered, time.Second)
	if ev.Filter.Query != "maria" {
		t.Errorf("filtered with query %q, want maria", ev.Filter.Query)
	}
	if len(ev.Conversations) != 1 || ev.Conversations[0].ID != "conv-a" {
		t.Errorf("filtered set = %v", ids(ev.Conversations))
	}
	if got := len(sink.ofKind(EventConversationsFiltered)); got != 1 {
		t.Errorf("got %d filtered events, want 1", got)
	}
}

func TestSearchClearedTriggersFreshLoad(t *testing.T) {
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

	ctrl.SearchInput("maria")
	sink.waitFor(t, EventConversationsFiltered, time.Second)

	// A conversation arrives remotely while the operator is typing.
	mem.SeedConversation(model.Conversation{
		ID: "conv-new", OperatorID: testOperator, ParticipantID: "peer-b",
		Status: model.StatusOpen, CreatedAt: time.Now(),
	})

	ctrl.SearchInput("")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		loaded := sink.ofKind(EventConversationsLoaded)
		if len(loaded) >= 2 {
			latest := loaded[len(loaded)-1]
			for _, c := range latest.Conversations {
				if c.ID == "conv-new" {
					return
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cleared search did not reload the conversation set")
}
