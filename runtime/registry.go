// Package runtime holds the process-wide live-connection state and the
// presence fan-out built on top of it. It contains no business rules.
package runtime

import (
	"chat-relay/contract"
	"sync"
)

// Registry maps each online user to their single live sink. All access
// goes through these methods; the map is never exposed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]contract.EventSink
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]contract.EventSink)}
}

// Register binds the sink to the user, silently superseding any
// previous connection for the same id. The prior transport is not
// closed here, only removed from routing.
func (r *Registry) Register(userID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = sink
}

// Unregister removes the mapping only when the stored sink is the
// caller's own, so a stale disconnect can never evict a newer
// connection. It reports whether a removal happened.
func (r *Registry) Unregister(userID string, sink contract.EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[userID]; ok && current == sink {
		delete(r.conns, userID)
		return true
	}
	return false
}

func (r *Registry) Lookup(userID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.conns[userID]
	return sink, ok
}

// SnapshotUserIDs returns the ids of all currently registered users.
func (r *Registry) SnapshotUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userIDs := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}
