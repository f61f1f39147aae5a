package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexzee/corpersafe/internal/logger"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/trip"
)

// Manager keeps at most one tracking session per trip.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	return &Manager{cfg: cfg, deps: deps, sessions: map[string]*Session{}}
}

func (m *Manager) WatchOptions() WatchOptions {
	return m.cfg.Watch
}

// Open returns the trip's running session or starts one. Only the trip's
// owner may track it, and a completed trip cannot be tracked again.
func (m *Manager) Open(ctx context.Context, tripID, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[tripID]; ok {
		if s.OwnerID() != userID {
			return nil, fmt.Errorf("trip %s: %w", tripID, apperrors.ErrForbidden)
		}
		return s, nil
	}

	t, err := m.deps.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.PCMID != userID {
		return nil, fmt.Errorf("trip %s: %w", tripID, apperrors.ErrForbidden)
	}
	if t.Status == trip.StatusCompleted {
		return nil, fmt.Errorf("trip %s already completed: %w", tripID, apperrors.ErrSessionClosed)
	}

	sub, err := m.deps.Source.Subscribe(tripID, m.cfg.Watch)
	if err != nil {
		return nil, fmt.Errorf("subscribe trip %s: %w", tripID, err)
	}

	s := newSession(t, m.cfg, m.deps, sub)
	s.onStop = func() { m.forget(s) }
	m.sessions[tripID] = s
	go s.run()

	s.log.WithField("status", t.Status).Info("tracking session opened")
	return s, nil
}

// Get returns a running session owned by userID.
func (m *Manager) Get(tripID, userID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[tripID]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no tracking session for trip %s: %w", tripID, apperrors.ErrSessionClosed)
	}
	if s.OwnerID() != userID {
		return nil, fmt.Errorf("trip %s: %w", tripID, apperrors.ErrForbidden)
	}
	return s, nil
}

func (m *Manager) Close(tripID, userID string) error {
	s, err := m.Get(tripID, userID)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// Shutdown stops every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.tripID] == s {
		delete(m.sessions, s.tripID)
	}
	s.log.Info("tracking session closed")
}
