package remotefs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/timeutil"
)

var regLog = monitoring.Prefixed("registry")

// DefaultSessionTTL is how long a registered session identity stays valid.
const DefaultSessionTTL = 4 * time.Hour

// Registry errors.
var (
	ErrSessionNotFound = errors.New("remotefs: session not found")
	ErrSessionExpired  = errors.New("remotefs: session expired")
)

// RegisteredSession is one issued session identity: the dial parameters a
// caller proved it holds, under an opaque id.
type RegisteredSession struct {
	ID        string
	Params    DialParams
	CreatedAt time.Time
}

// PoolKey derives the connection-pool cache key for this identity. Pools
// are cached per identity, never globally.
func (s *RegisteredSession) PoolKey() string {
	return fmt.Sprintf("%s_%s_%d_%s", s.ID, s.Params.Host, s.Params.Port, s.Params.Username)
}

// Registry maps opaque session ids to dial parameters with a fixed TTL.
// Expired entries are rejected on lookup and reaped lazily.
type Registry struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	ttl      time.Duration
	sessions map[string]*RegisteredSession
}

// NewRegistry creates a Registry. A nil clock uses the real clock; a
// non-positive ttl uses DefaultSessionTTL.
func NewRegistry(clock timeutil.Clock, ttl time.Duration) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		clock:    clock,
		ttl:      ttl,
		sessions: make(map[string]*RegisteredSession),
	}
}

// Add registers dial parameters and returns the new identity.
func (r *Registry) Add(params DialParams) *RegisteredSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &RegisteredSession{
		ID:        uuid.NewString(),
		Params:    params,
		CreatedAt: r.clock.Now(),
	}
	r.sessions[s.ID] = s
	regLog("registered session %s for %s@%s", s.ID, params.Username, params.Addr())
	return s
}

// Lookup resolves an id. Expired entries are reaped and reported as
// ErrSessionExpired alongside the stale session, so callers can still
// tear down state keyed by it. Unknown ids return ErrSessionNotFound.
func (r *Registry) Lookup(id string) (*RegisteredSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if r.clock.Since(s.CreatedAt) > r.ttl {
		delete(r.sessions, id)
		regLog("session %s expired after %s", id, r.ttl)
		return s, ErrSessionExpired
	}
	return s, nil
}

// Remove deletes an id, returning the removed session so the caller can
// tear down anything keyed by it.
func (r *Registry) Remove(id string) (*RegisteredSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	delete(r.sessions, id)
	return s, ok
}

// Len returns the number of registered sessions, including any not yet
// reaped.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
