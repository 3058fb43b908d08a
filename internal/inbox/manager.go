package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// ManagerOptions configure the per-operator sessions a Manager creates.
type ManagerOptions struct {
	Controller           Options
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
}

// Manager hands out one independent inbox per operator: a controller plus
// its running reconciler, created lazily on first use and torn down
// together.
type Manager struct {
	store  store.Store
	feed   store.ChangeFeed
	opts   ManagerOptions
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	controller *Controller
	reconciler *Reconciler
}

// NewManager creates a session manager over the shared store and feed.
func NewManager(st store.Store, feed store.ChangeFeed, opts ManagerOptions, log *logger.Logger) *Manager {
	return &Manager{
		store:    st,
		feed:     feed,
		opts:     opts,
		logger:   log,
		sessions: make(map[string]*session),
	}
}

// Controller returns the operator's inbox controller, creating the
// session and starting its reconciler on first use.
func (m *Manager) Controller(ctx context.Context, operatorID string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[operatorID]; ok {
		return s.controller
	}

	ctrl := NewController(m.store, operatorID, m.opts.Controller, m.logger)
	rec := NewReconciler(m.feed, ctrl, m.opts.ReconnectDelay, m.opts.ReconnectMaxAttempts, m.logger)
	// The session outlives the request that created it; only Release or
	// Close may end its subscriptions.
	rec.Start(context.WithoutCancel(ctx))

	m.sessions[operatorID] = &session{controller: ctrl, reconciler: rec}
	metrics.InboxSessionsActive.Set(float64(len(m.sessions)))
	return ctrl
}

// Release tears down one operator's session: the reconciler unsubscribes
// its channels so re-entry does not deliver duplicate events.
func (m *Manager) Release(operatorID string) {
	m.mu.Lock()
	s, ok := m.sessions[operatorID]
	if ok {
		delete(m.sessions, operatorID)
	}
	metrics.InboxSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if ok {
		s.reconciler.Stop()
		s.controller.Close()
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	metrics.InboxSessionsActive.Set(0)
	m.mu.Unlock()

	for _, s := range sessions {
		s.reconciler.Stop()
		s.controller.Close()
	}
}
