// Package session provides in-memory conversation session storage for ShopFlow.
//
// Sessions are process-memory-only by design: a durable deployment would add
// another Store implementation behind the same interface without touching the
// flow interpreter.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is the session TTL applied when none is configured.
const DefaultTimeout = 30 * time.Minute

// Session holds the mutable per-conversation state tracked between turns.
// The Context bag accumulates partially validated input (e.g. a staged
// product record) and transient references (e.g. a staged image URL).
type Session struct {
	ConversationID string
	CurrentStepID  string
	Context        map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Store defines the session storage contract used by the flow interpreter.
type Store interface {
	// Get returns the session for the conversation, or nil if absent or
	// expired. Expired entries are evicted on access so callers never
	// observe a stale session.
	Get(id string) *Session

	// Set stores the session, refreshing UpdatedAt and ExpiresAt.
	Set(id string, s *Session)

	// Delete removes the session if present.
	Delete(id string)

	// CreateSession returns a fresh, not-yet-stored session positioned at
	// the given step. The caller must Set it to persist.
	CreateSession(id, initialStepID string) *Session

	// SweepExpired removes all expired entries and returns how many were
	// evicted. Safe to call concurrently with Get/Set.
	SweepExpired() int

	// Do runs fn while holding the per-conversation lock, serializing
	// concurrent turns for the same conversation id.
	Do(id string, fn func())
}

// Opts holds configuration options for the in-memory store.
type Opts struct {
	Timeout time.Duration
}

// Option defines a configuration option for the in-memory store.
type Option func(*Opts)

// WithTimeout sets the session TTL. The timeout is fixed at construction
// and applied uniformly to every session.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// InMemoryStore is a map-backed Store with TTL expiry and per-conversation
// locking. The store exclusively owns all stored Session values.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	timeout  time.Duration
	now      func() time.Time
}

// NewInMemoryStore creates an in-memory session store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("Creating in-memory session store", "timeout", cfg.Timeout)
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
}

// SetClock overrides the store's time source. Intended for tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the session for the conversation, lazily evicting it when
// expired.
func (s *InMemoryStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.now().After(sess.ExpiresAt) {
		delete(s.sessions, id)
		slog.Debug("Session expired on access", "conversation", id, "expired_at", sess.ExpiresAt)
		return nil
	}
	return sess
}

// Set stores the session under the conversation id, refreshing UpdatedAt
// and ExpiresAt. The stored value replaces any previous session wholesale.
func (s *InMemoryStore) Set(id string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.timeout)
	s.sessions[id] = sess
	slog.Debug("Session stored", "conversation", id, "step", sess.CurrentStepID, "expires_at", sess.ExpiresAt)
}

// Delete removes the session for the conversation if present.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		slog.Debug("Session deleted", "conversation", id)
	}
}

// CreateSession returns a fresh session with an empty context. It is not
// stored until the caller calls Set, so a failed turn leaves no residue.
func (s *InMemoryStore) CreateSession(id, initialStepID string) *Session {
	now := s.nowLocked()
	return &Session{
		ConversationID: id,
		CurrentStepID:  initialStepID,
		Context:        make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.timeout),
	}
}

func (s *InMemoryStore) nowLocked() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// SweepExpired removes every expired session and returns the eviction count.
func (s *InMemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Session sweep evicted expired sessions", "count", evicted)
	}
	return evicted
}

// Len returns the number of live (possibly expired but unswept) sessions.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Do runs fn while holding the lock for the conversation id. Turns for the
// same conversation are serialized; different conversations do not contend.
func (s *InMemoryStore) Do(id string, fn func()) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}

// StartSweeper launches a background goroutine that calls SweepExpired on
// the given interval until the context is cancelled.
func (s *InMemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.timeout
	}
	slog.Debug("Starting session sweeper", "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Session sweeper stopped")
				return
			case <-ticker.C:
				s.SweepExpired()
			}
		}
	}()
}
