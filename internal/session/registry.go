package session

import (
	"context"
	"sort"
	"strings"
	"sync"

	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
)

// DefaultID is the session identifier used when a request names none.
const DefaultID = "default"

// Normalize maps a raw session identifier to its canonical form: leading
// and trailing whitespace is stripped, and a blank identifier becomes
// DefaultID. Two raw identifiers that normalize equal address the same
// session.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID
	}
	return id
}

// Registry holds all live sessions keyed by normalized identifier.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Resolve returns the session for the identifier, or nil when none exists.
func (r *Registry) Resolve(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[Normalize(id)]
}

// GetOrCreate returns the session for the identifier, creating it first
// when absent.
func (r *Registry) GetOrCreate(id string) *Session {
	key := Normalize(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		s = &Session{ID: key}
		r.sessions[key] = s
		klog.Session.Debug().Str("session", key).Msg("session created")
	}
	return s
}

// Teardown closes and removes the session for the identifier. Unknown
// identifiers are a no-op. Returns true when a session was removed.
func (r *Registry) Teardown(ctx context.Context, id string) bool {
	key := Normalize(id)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Close(ctx)
	return true
}

// Shutdown tears down every session. Individual teardown failures are
// already swallowed by Session.Close, so Shutdown always completes.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close(ctx)
	}
	klog.Session.Info().Int("sessions", len(all)).Msg("all sessions closed")
}

// List returns the normalized identifiers of all live sessions, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
