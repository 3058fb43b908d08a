package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/internal/store"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// ErrStaleLoad marks a load whose response arrived after a newer load was
// issued. The result is discarded rather than overwriting the cache, so
// the visible state always reflects the most recent filter action.
var ErrStaleLoad = errors.New("superseded by a newer load")

// ConversationRepo loads and enriches the operator's conversation set and
// holds the in-memory cache the filter engine reads. The repo is the
// cache's only writer.
type ConversationRepo struct {
	store      store.Store
	operatorID string
	timeout    time.Duration
	logger     *logger.Logger

	// Monotonic stamp per issued load; responses older than the latest
	// issued stamp are discarded instead of cancelled.
	seq atomic.Uint64

	mu       sync.RWMutex
	cache    []model.Conversation
	loadFail bool
}

// NewConversationRepo creates a conversation repository for one operator.
func NewConversationRepo(st store.Store, operatorID string, timeout time.Duration, log *logger.Logger) *ConversationRepo {
	return &ConversationRepo{
		store:      st,
		operatorID: operatorID,
		timeout:    timeout,
		logger:     log,
	}
}

// Load fetches the operator's conversations matching the status filter
// (single value or comma-set), enriches each with peer profile, last
// message, and unread count, applies the role filter post-join, sorts by
// recency, and replaces the cache.
//
// Any remote failure yields an empty result and a non-nil error; callers
// render the empty state. Load never panics past this boundary.
func (r *ConversationRepo) Load(ctx context.Context, roleFilter, statusFilter string) ([]model.Conversation, error) {
	start := time.Now()
	stamp := r.seq.Add(1)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	convs, err := r.load(ctx, roleFilter, statusFilter)

	r.mu.Lock()
	if stamp != r.seq.Load() {
		r.mu.Unlock()
		metrics.RecordConversationLoad("stale", time.Since(start).Seconds())
		return nil, ErrStaleLoad
	}
	if err != nil {
		r.cache = nil
		r.loadFail = true
		r.mu.Unlock()

		metrics.RecordConversationLoad("error", time.Since(start).Seconds())
		r.logger.Warn("conversation load failed, rendering empty state", zap.Error(err))
		return nil, err
	}
	r.cache = convs
	r.loadFail = false
	r.mu.Unlock()

	metrics.RecordConversationLoad("ok", time.Since(start).Seconds())
	return convs, nil
}

func (r *ConversationRepo) load(ctx context.Context, roleFilter, statusFilter string) ([]model.Conversation, error) {
	statuses := model.ParseStatusSet(statusFilter)

	convs, err := r.store.ConversationsByParticipant(ctx, r.operatorID, statuses)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if len(convs) == 0 {
		return []model.Conversation{}, nil
	}

	ids := make([]string, len(convs))
	participantIDs := make([]string, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		if !seen[c.ParticipantID] {
			seen[c.ParticipantID] = true
			participantIDs = append(participantIDs, c.ParticipantID)
		}
	}

	// Two batched auxiliary queries, one round trip each across all ids.
	profiles, err := r.store.ProfilesByID(ctx, participantIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch profiles: %w", err)
	}
	latest, err := r.store.LatestMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch latest messages: %w", err)
	}
	unread, err := r.store.UnreadCounts(ctx, ids, r.operatorID)
	if err != nil {
		return nil, fmt.Errorf("fetch unread counts: %w", err)
	}

	roleF := model.Filter{Role: roleFilter}
	out := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		if p, ok := profiles[c.ParticipantID]; ok {
			c.Peer = p
		} else {
			// One missing profile must not fail the whole load.
			c.Peer = model.PlaceholderProfile(c.ParticipantID)
		}

		if msg, ok := latest[c.ID]; ok {
			c.LastMessage = msg.Body
			c.LastMessageTime = msg.CreatedAt
			c.LastMessageLabel = FormatMessageTime(msg.CreatedAt)
		} else {
			c.LastMessage = model.NoMessagesYet
		}
		c.UnreadCount = unread[c.ID]

		// Role lives on the joined profile, so it cannot be pushed to
		// the initial query.
		if !roleF.MatchesRole(c.Peer.Role) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortKey().After(out[j].SortKey())
	})
	return out, nil
}

// Cached returns a copy of the last loaded conversation set.
func (r *ConversationRepo) Cached() []model.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Conversation, len(r.cache))
	copy(out, r.cache)
	return out
}

// LoadFailed reports whether the last load ended in the error state. It
// distinguishes "no conversations" from "could not fetch conversations".
func (r *ConversationRepo) LoadFailed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadFail
}

// CachedByID finds a conversation in the cache.
func (r *ConversationRepo) CachedByID(id string) (model.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cache {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}
