package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pontocerto/checkout/internal/fees"
)

// ErrNotFound indicates the requested session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Registry keeps the open checkout sessions, one per register, with a TTL so
// abandoned checkouts do not accumulate.
type Registry struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{TTL: ttl, sessions: make(map[string]*Session)}
}

func (r *Registry) ttl() time.Duration {
	if r == nil || r.TTL <= 0 {
		return 12 * time.Hour
	}
	return r.TTL
}

func (r *Registry) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Open creates a session with the provided fee schedule snapshot.
func (r *Registry) Open(schedule fees.Schedule) *Session {
	now := r.now()
	s := newSession(uuid.NewString(), schedule, now, r.ttl())
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*Session)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns an open session and extends its expiry.
func (r *Registry) Get(id string) (*Session, error) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if now.After(s.expiresAt) {
		delete(r.sessions, id)
		return nil, ErrNotFound
	}
	s.expiresAt = now.Add(r.ttl())
	return s, nil
}

// Close removes a session, typically after finalize.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Sweep drops expired sessions and reports how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if now.After(s.expiresAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
