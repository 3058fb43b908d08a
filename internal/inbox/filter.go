package inbox

import (
	"sync"
	"time"

	"github.com/tartanilla/admin-inbox/internal/model"
)

// ApplyFilter applies role and free-text predicates over an
// already-loaded conversation set, with no remote round trip. Status
// filtering happens at the repository query; role and query filtering
// happen here. The predicates are independent, so filters compose in any
// order.
func ApplyFilter(conversations []model.Conversation, f model.Filter) []model.Conversation {
	out := make([]model.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if !f.MatchesRole(c.Peer.Role) {
			continue
		}
		if !f.MatchesQuery(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Debouncer coalesces rapid triggers into one callback after a quiet
// period. Search input uses it so filtering does not run on every
// keystroke.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn after the quiet period, replacing any pending
// callback.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
