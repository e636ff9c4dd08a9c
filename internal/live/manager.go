package live

import (
	"context"
	"log/slog"
	"sync"
)

// Manager enforces at most one non-terminal [Session] per key (typically the
// caller's user ID). A second start for a key whose session is still live
// fails with [ErrSessionActive] and leaves the first session untouched.
//
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *slog.Logger
}

// NewManager returns an empty Manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{sessions: make(map[string]*Session), log: log}
}

// Start registers s under key and starts it. The registration is dropped
// automatically once s reaches a terminal state.
func (m *Manager) Start(ctx context.Context, key string, s *Session) error {
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && !cur.State().Terminal() {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.sessions[key] = s
	m.mu.Unlock()

	go func() {
		<-s.Done()
		m.mu.Lock()
		if m.sessions[key] == s {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
	}()

	return s.Start(ctx)
}

// Get returns the registered session for key, if any.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every registered session. It returns early with ctx's
// error if ctx ends before all sessions finished closing.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("live: all sessions closed", "count", len(all))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
