package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoSession = errors.New("no dashboard session for credential")

// Manager owns the open sessions, keyed by credential. Opening twice with
// the same credential returns the existing session.
type Manager struct {
	deps    Deps
	idleTTL time.Duration
	hub     *Hub
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, hub *Hub, idleTTL time.Duration) *Manager {
	return &Manager{
		deps:     deps,
		idleTTL:  idleTTL,
		hub:      hub,
		logger:   deps.Logger.With().Str("component", "sessions").Logger(),
		sessions: make(map[string]*Session),
	}
}

// credentials never sit in memory as map keys
func sessionKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) Open(ctx context.Context, id Identity) (*Session, error) {
	key := sessionKey(id.Credential)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok && !s.Closed() {
		m.mu.Unlock()
		if s.Role() != id.Role {
			return nil, errors.New("dashboard: credential already bound to another role")
		}
		s.touch()
		return s, nil
	}
	s, err := NewSession(id, m.deps)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[key] = s
	m.mu.Unlock()

	if m.hub != nil {
		s.Subscribe(func(v View) { m.hub.Broadcast(s.ID, v) })
	}
	s.Start(ctx)
	m.logger.Info().Str("session", s.ID).Str("role", string(id.Role)).Msg("session opened")
	return s, nil
}

func (m *Manager) Get(credential string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(credential)]
	if !ok || s.Closed() {
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Manager) Close(credential string) error {
	m.mu.Lock()
	key := sessionKey(credential)
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	s.Close()
	if m.hub != nil {
		m.hub.CloseTopic(s.ID)
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle since before now minus the idle TTL and
// returns how many it closed. Sessions with live websocket listeners are
// kept.
func (m *Manager) Reap(now time.Time) int {
	cutoff := now.Add(-m.idleTTL)
	var stale []*Session

	m.mu.Lock()
	for key, s := range m.sessions {
		if s.idleSince().After(cutoff) {
			continue
		}
		if m.hub != nil && m.hub.TopicCount(s.ID) > 0 {
			continue
		}
		stale = append(stale, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		m.logger.Info().Int("closed", len(stale)).Msg("reaped idle sessions")
	}
	return len(stale)
}

// Run reaps idle sessions until ctx ends, then closes everything.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		<-ctx.Done()
		m.CloseAll()
		return
	}
	ticker := time.NewTicker(m.idleTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
		if m.hub != nil {
			m.hub.CloseTopic(s.ID)
		}
	}
}
