// Package session manages conversation histories and the single-writer
// discipline that keeps them ordered.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

// Manager owns all sessions. Distinct sessions are fully independent; within
// one session at most one cycle may be in flight (Acquire/Release), so turn
// appends need no per-session lock of their own.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      contractx.Clock
}

type Option func(*Manager)

func WithClock(now contractx.Clock) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create starts a new active session with an empty history.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: m.now(),
		status:    StatusActive,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Info().Str("session_id", s.ID).Msg("session created")
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownSession, id)
	}
	return s, nil
}

// Append adds a turn in conversation order. Closed sessions accept nothing.
func (m *Manager) Append(s *Session, turn contractx.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.status == StatusClosed {
		return fmt.Errorf("%w: %s", contractx.ErrSessionClosed, s.ID)
	}
	s.append(turn, m.now())
	return nil
}

// History returns a defensive copy of the ordered turns.
func (m *Manager) History(s *Session) []contractx.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.history()
}

// Acquire claims the session for one request/response cycle. A concurrent
// second request on the same session fails fast rather than queueing.
func (m *Manager) Acquire(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.status == StatusClosed {
		return fmt.Errorf("%w: %s", contractx.ErrSessionClosed, s.ID)
	}
	if s.busy {
		return fmt.Errorf("%w: %s", contractx.ErrSessionBusy, s.ID)
	}
	s.busy = true
	return nil
}

func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	s.busy = false
	m.mu.Unlock()
}

// Close ends the session; no further appends are accepted.
func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	s.status = StatusClosed
	m.mu.Unlock()
	log.Info().Str("session_id", s.ID).Msg("session closed")
}

// Reset discards a session's history: the old session is closed and dropped,
// and a fresh one is created in its place.
func (m *Manager) Reset(id string) (*Session, error) {
	old, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.Close(old)

	m.mu.Lock()
	delete(m.sessions, old.ID)
	m.mu.Unlock()

	return m.Create(), nil
}
