package assessment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keeps the live sessions of the service, keyed by a random id.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), sessions: make(map[string]*Session)}
}

// Create registers a new session in the intake phase.
func (m *Manager) Create() *Session {
	s := NewSession(uuid.NewString(), m.cfg)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops a session from the registry and stops its countdown.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.abandon()
	}
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions created more than maxAge ago. Unfinished sessions are
// dropped without submission.
func (m *Manager) Reap(maxAge time.Duration) int {
	cutoff := m.cfg.Now().Add(-maxAge)
	var stale []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.abandon()
	}
	if len(stale) > 0 {
		slog.Info("reaped sessions", "count", len(stale))
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Reap(maxAge)
		}
	}
}

// Wait blocks until the gateway calls of every registered session finish.
func (m *Manager) Wait() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Wait()
	}
}
