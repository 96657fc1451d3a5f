package bridge

import (
	"sort"
	"sync"
)

// Registry maps call identifiers to their live session. It is the only
// state shared between sessions. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session registered for callID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// GetOrCreate returns the session for callID, calling create to build one
// when none is registered. create runs under the registry lock and may
// refuse by returning an error. The boolean reports whether a new session
// was created.
func (r *Registry) GetOrCreate(callID string, create func(n int) (*Session, error)) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[callID]; ok {
		return s, false, nil
	}
	s, err := create(len(r.sessions))
	if err != nil {
		return nil, false, err
	}
	r.sessions[callID] = s
	return s, true, nil
}

// Remove deletes callID only while it still maps to s, so a late close of
// an old session never unregisters its successor.
func (r *Registry) Remove(callID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[callID]; ok && cur == s {
		delete(r.sessions, callID)
		return true
	}
	return false
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// All returns the registered sessions ordered by creation time.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].created.Before(out[j].created) })
	return out
}
