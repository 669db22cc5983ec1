package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive     SessionStatus = "ACTIVE"
	StatusProcessing SessionStatus = "PROCESSING"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusError      SessionStatus = "ERROR"
	StatusPaused     SessionStatus = "PAUSED"
)

// ErrSessionNotFound is returned by SessionManager implementations when
// no session exists for the requested ID.
var ErrSessionNotFound = errors.New("session not found")

// TraceStep is one timestamped record of a state change inside the core.
// Details are masked by the Tracer before the step is appended.
type TraceStep struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// Session is the central aggregate: one conversation's history, its
// summarization config, and the execution trace. History is append-only
// during a request (the summarizer replaces it wholesale between
// requests); trace is append-only for the session's entire lifetime.
type Session struct {
	ID            string        `json:"session_id"`
	AgentName     string        `json:"agent_name"`
	Status        SessionStatus `json:"status"`
	History       []ChatMessage `json:"history"`
	HistoryConfig HistoryConfig `json:"history_config"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
	Trace         []TraceStep   `json:"trace"`
}

// NewSession builds an ACTIVE session with empty history and trace.
func NewSession(agentName string, config HistoryConfig) *Session {
	now := time.Now()
	return &Session{
		ID:            NewID(),
		AgentName:     agentName,
		Status:        StatusActive,
		History:       []ChatMessage{},
		HistoryConfig: config,
		CreatedAt:     now,
		LastMessageAt: now,
		Trace:         []TraceStep{},
	}
}

// Messages returns the number of history messages.
func (s *Session) Messages() int { return len(s.History) }

// Chars returns the total history content length in code points.
func (s *Session) Chars() int {
	total := 0
	for _, m := range s.History {
		total += utf8.RuneCountInString(m.Content)
	}
	return total
}

// Words returns the total whitespace-separated word count of the history.
func (s *Session) Words() int {
	total := 0
	for _, m := range s.History {
		total += len(strings.Fields(m.Content))
	}
	return total
}

// Tokens estimates history size at roughly four characters per token.
func (s *Session) Tokens() int { return s.Chars() / 4 }

// Metrics returns the history measurements keyed for trace details.
func (s *Session) Metrics() map[string]any {
	return map[string]any{
		"messages":         s.Messages(),
		"chars":            s.Chars(),
		"words":            s.Words(),
		"estimated_tokens": s.Tokens(),
	}
}

// ShouldSummarize reports whether the history crossed any configured
// threshold. Always false when summarization is disabled.
func (s *Session) ShouldSummarize() bool {
	c := s.HistoryConfig
	if !c.Enabled {
		return false
	}
	return s.Messages() >= c.MessageThreshold ||
		s.Chars() >= c.CharThreshold ||
		s.Words() >= c.WordThreshold ||
		s.Tokens() >= c.TokenThreshold
}

// SessionManager persists sessions. Implementations must serialize
// interleaved reads and writes per session; cross-session isolation is
// not required. Save is an upsert and refreshes LastMessageAt.
type SessionManager interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	CreateNew(ctx context.Context, agentName string, config *HistoryConfig) (*Session, error)
	List(ctx context.Context, limit int) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status SessionStatus) error
}
