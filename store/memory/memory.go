// Package memory implements the session manager in process memory.
// Sessions are stored as deep copies, so callers never share state with
// the store; a per-session lock serializes writes to one session while
// leaving unrelated sessions fully parallel.
package memory

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a structured logger for the manager. If not set, no
// logs are emitted.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Manager implements orchestrator.SessionManager backed by a map.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*orchestrator.Session
	locks    map[string]*sync.Mutex
	logger   *slog.Logger
}

var _ orchestrator.SessionManager = (*Manager)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates an empty Manager.
func New(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*orchestrator.Session),
		locks:    make(map[string]*sync.Mutex),
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// sessionLock returns the write lock for one session, creating it on
// first use. Locks are only dropped together with their session.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Get returns a deep copy of the stored session.
func (m *Manager) Get(_ context.Context, id string) (*orchestrator.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, orchestrator.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Save upserts the session and refreshes its LastMessageAt. The store
// keeps a deep copy, so later caller mutations do not leak in.
func (m *Manager) Save(_ context.Context, s *orchestrator.Session) error {
	lock := m.sessionLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	s.LastMessageAt = time.Now()
	stored := cloneSession(s)

	m.mu.Lock()
	m.sessions[s.ID] = stored
	m.mu.Unlock()

	m.logger.Debug("memory: session saved", "session_id", s.ID, "history", len(s.History), "trace", len(s.Trace))
	return nil
}

// CreateNew builds an ACTIVE session, falling back to the default
// history config when none is given, and stores it.
func (m *Manager) CreateNew(_ context.Context, agentName string, config *orchestrator.HistoryConfig) (*orchestrator.Session, error) {
	cfg := orchestrator.DefaultHistoryConfig()
	if config != nil {
		cfg = *config
	}
	s := orchestrator.NewSession(agentName, cfg)

	m.mu.Lock()
	m.sessions[s.ID] = cloneSession(s)
	m.locks[s.ID] = &sync.Mutex{}
	m.mu.Unlock()

	m.logger.Debug("memory: session created", "session_id", s.ID, "agent_name", agentName)
	return s, nil
}

// List returns deep copies ordered by most recent activity first.
// A non-positive limit returns everything.
func (m *Manager) List(_ context.Context, limit int) ([]*orchestrator.Session, error) {
	m.mu.RLock()
	out := make([]*orchestrator.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a session and its lock.
func (m *Manager) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return orchestrator.ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.locks, id)
	m.logger.Debug("memory: session deleted", "session_id", id)
	return nil
}

// UpdateStatus transitions a session's lifecycle state.
func (m *Manager) UpdateStatus(_ context.Context, id string, status orchestrator.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return orchestrator.ErrSessionNotFound
	}
	s.Status = status
	return nil
}

// cloneSession copies a session so store and caller never alias. Trace
// details are cloned one level deep; steps are immutable once appended,
// so nested values are safe to share.
func cloneSession(s *orchestrator.Session) *orchestrator.Session {
	c := *s
	c.History = make([]orchestrator.ChatMessage, len(s.History))
	copy(c.History, s.History)
	c.Trace = make([]orchestrator.TraceStep, len(s.Trace))
	for i, step := range s.Trace {
		cs := step
		if step.Details != nil {
			cs.Details = maps.Clone(step.Details)
		}
		c.Trace[i] = cs
	}
	return &c
}
