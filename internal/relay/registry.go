package relay

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/nostrhome/hub/internal/errs"
	"github.com/nostrhome/hub/internal/model"
)

// Match identifies one subscription that an event should be delivered to.
type Match struct {
	SessionID      uuid.UUID
	SubscriptionID string
}

// Registry is the shared index of live subscriptions across all sessions.
// Mutations are serialized against each other and against match snapshots.
type Registry struct {
	mu            sync.RWMutex
	maxPerSession int
	maxSubIDLen   int
	sessions      map[uuid.UUID]map[string][]model.Filter
}

// NewRegistry constructs a registry with per-session caps.
func NewRegistry(maxPerSession, maxSubIDLen int) *Registry {
	if maxPerSession <= 0 {
		maxPerSession = 20
	}
	if maxSubIDLen <= 0 {
		maxSubIDLen = 64
	}
	return &Registry{
		maxPerSession: maxPerSession,
		maxSubIDLen:   maxSubIDLen,
		sessions:      make(map[uuid.UUID]map[string][]model.Filter),
	}
}

// Add registers a subscription. Re-adding an existing id replaces its filter
// set atomically; a rejected add mutates nothing.
func (r *Registry) Add(sessionID uuid.UUID, subID string, filters []model.Filter) error {
	if len(subID) > r.maxSubIDLen {
		return errs.ErrSubscriptionIDTooLong
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sessions[sessionID]
	if subs == nil {
		subs = make(map[string][]model.Filter)
		r.sessions[sessionID] = subs
	}
	if _, replacing := subs[subID]; !replacing && len(subs) >= r.maxPerSession {
		return errs.ErrTooManySubscriptions
	}
	subs[subID] = filters
	return nil
}

// Remove drops one subscription. Unknown ids are a no-op.
func (r *Registry) Remove(sessionID uuid.UUID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[sessionID], subID)
}

// RemoveAll drops every subscription owned by the session.
func (r *Registry) RemoveAll(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Count returns the number of live subscriptions for a session.
func (r *Registry) Count(sessionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Matching returns a snapshot of every (session, subscription) pair whose
// filter list matches the event. The snapshot is taken under the read lock so
// a concurrent Remove either excludes the pair or races by at most one
// delivery, never after teardown completes.
func (r *Registry) Matching(ev model.Event) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Match
	for sessionID, subs := range r.sessions {
		for subID, filters := range subs {
			if model.MatchesAny(ev, filters) {
				out = append(out, Match{SessionID: sessionID, SubscriptionID: subID})
			}
		}
	}
	return out
}
