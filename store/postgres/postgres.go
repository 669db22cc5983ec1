// Package postgres implements the session manager on PostgreSQL.
// History and trace are stored as JSONB; array order is preserved, so
// both round-trip exactly.
//
// The Manager accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// Manager implements orchestrator.SessionManager backed by PostgreSQL.
type Manager struct {
	pool *pgxpool.Pool
}

var _ orchestrator.SessionManager = (*Manager)(nil)

// New creates a Manager using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Manager {
	return &Manager{pool: pool}
}

// Init creates the sessions table and its index.
// Safe to call multiple times (all statements are idempotent).
func (m *Manager) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			status TEXT NOT NULL,
			history JSONB NOT NULL,
			history_config JSONB NOT NULL,
			trace JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			last_message_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_last_message_idx ON sessions(last_message_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(ctx context.Context, id string) (*orchestrator.Session, error) {
	row := m.pool.QueryRow(ctx,
		`SELECT id, agent_name, status, history, history_config, trace, created_at, last_message_at
		 FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orchestrator.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save upserts the session and refreshes its LastMessageAt.
func (m *Manager) Save(ctx context.Context, s *orchestrator.Session) error {
	s.LastMessageAt = time.Now()
	history, config, trace, err := encodeSession(s)
	if err != nil {
		return err
	}

	_, err = m.pool.Exec(ctx,
		`INSERT INTO sessions (id, agent_name, status, history, history_config, trace, created_at, last_message_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   agent_name = EXCLUDED.agent_name,
		   status = EXCLUDED.status,
		   history = EXCLUDED.history,
		   history_config = EXCLUDED.history_config,
		   trace = EXCLUDED.trace,
		   last_message_at = EXCLUDED.last_message_at`,
		s.ID, s.AgentName, string(s.Status), history, config, trace,
		s.CreatedAt.UnixMilli(), s.LastMessageAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("postgres: save session: %w", err)
	}
	return nil
}

// CreateNew builds an ACTIVE session, falling back to the default
// history config when none is given, and inserts it.
func (m *Manager) CreateNew(ctx context.Context, agentName string, config *orchestrator.HistoryConfig) (*orchestrator.Session, error) {
	cfg := orchestrator.DefaultHistoryConfig()
	if config != nil {
		cfg = *config
	}
	s := orchestrator.NewSession(agentName, cfg)

	history, configJSON, trace, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	_, err = m.pool.Exec(ctx,
		`INSERT INTO sessions (id, agent_name, status, history, history_config, trace, created_at, last_message_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.AgentName, string(s.Status), history, configJSON, trace,
		s.CreatedAt.UnixMilli(), s.LastMessageAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("postgres: create session: %w", err)
	}
	return s, nil
}

// List returns sessions ordered by most recent activity first.
// A non-positive limit returns everything.
func (m *Manager) List(ctx context.Context, limit int) ([]*orchestrator.Session, error) {
	query := `SELECT id, agent_name, status, history, history_config, trace, created_at, last_message_at
		 FROM sessions ORDER BY last_message_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*orchestrator.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestrator.ErrSessionNotFound
	}
	return nil
}

// UpdateStatus transitions a session's lifecycle state.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status orchestrator.SessionStatus) error {
	tag, err := m.pool.Exec(ctx, `UPDATE sessions SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestrator.ErrSessionNotFound
	}
	return nil
}

// encodeSession marshals the JSONB columns.
func encodeSession(s *orchestrator.Session) (history, config, trace []byte, err error) {
	h, err := json.Marshal(s.History)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode history: %w", err)
	}
	c, err := json.Marshal(s.HistoryConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode history config: %w", err)
	}
	tr, err := json.Marshal(s.Trace)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode trace: %w", err)
	}
	return h, c, tr, nil
}

// scanSession decodes one sessions row.
func scanSession(row pgx.Row) (*orchestrator.Session, error) {
	var (
		s           orchestrator.Session
		status      string
		history     []byte
		config      []byte
		trace       []byte
		createdAt   int64
		lastMessage int64
	)
	if err := row.Scan(&s.ID, &s.AgentName, &status, &history, &config, &trace, &createdAt, &lastMessage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	s.Status = orchestrator.SessionStatus(status)
	s.History = []orchestrator.ChatMessage{}
	if err := json.Unmarshal(history, &s.History); err != nil {
		return nil, fmt.Errorf("postgres: decode history: %w", err)
	}
	if err := json.Unmarshal(config, &s.HistoryConfig); err != nil {
		return nil, fmt.Errorf("postgres: decode history config: %w", err)
	}
	s.Trace = []orchestrator.TraceStep{}
	if err := json.Unmarshal(trace, &s.Trace); err != nil {
		return nil, fmt.Errorf("postgres: decode trace: %w", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.LastMessageAt = time.UnixMilli(lastMessage)
	return &s, nil
}
