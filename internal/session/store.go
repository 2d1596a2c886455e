// Package session keeps the bodies clients register through /start, keyed by
// a random session id.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/metrics"
)

var ErrNotFound = errors.New("session not found")

var emptyBody = json.RawMessage(`{}`)

type entry struct {
	body     json.RawMessage
	lastSeen time.Time
}

// Store is an in-memory session registry. Entries idle for longer than the
// TTL are removed by Sweep; a zero TTL keeps them forever.
type Store struct {
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewStore creates an empty store.
func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create stores body under a fresh id and returns the id.
func (s *Store) Create(body json.RawMessage) (string, error) {
	if len(body) == 0 || string(body) == "null" {
		body = emptyBody
	}
	stored := make(json.RawMessage, len(body))
	copy(stored, body)

	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[id.String()] = &entry{body: stored, lastSeen: s.now()}
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessions.Set(float64(n))
	return id.String(), nil
}

// Get returns the body stored under id and refreshes its idle timer.
func (s *Store) Get(id string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || s.expired(e) {
		return nil, ErrNotFound
	}
	e.lastSeen = s.now()
	return e.body, nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	removed := 0
	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		metrics.SessionsEvictedTotal.Add(float64(removed))
		metrics.ActiveSessions.Set(float64(n))
		s.logger.Info("sessions evicted", zap.Int("removed", removed), zap.Int("remaining", n))
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = s.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// expired must be called with mu held.
func (s *Store) expired(e *entry) bool {
	return s.ttl > 0 && s.now().Sub(e.lastSeen) > s.ttl
}
