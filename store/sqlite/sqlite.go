// Package sqlite implements the session manager on pure-Go SQLite.
// Zero CGO required. History and trace are stored as JSON text columns,
// so both round-trip in exact order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// ManagerOption configures a SQLite Manager.
type ManagerOption func(*Manager)

// WithLogger sets a structured logger for the manager. When set, the
// manager emits debug logs for every operation including timing and key
// parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Manager implements orchestrator.SessionManager backed by a local
// SQLite file.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ orchestrator.SessionManager = (*Manager)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Manager using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers. This also gives the
// per-session write serialization the session manager contract requires.
func New(dbPath string, opts ...ManagerOption) *Manager {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	m := &Manager{db: db, logger: nopLogger}
	for _, o := range opts {
		o(m)
	}
	m.logger.Debug("sqlite: session manager opened", "path", dbPath)
	return m
}

// Init creates the sessions table.
func (m *Manager) Init(ctx context.Context) error {
	start := time.Now()
	m.logger.Debug("sqlite: init started")

	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL,
		history TEXT NOT NULL,
		history_config TEXT NOT NULL,
		trace TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	_, _ = m.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_last_message ON sessions(last_message_at)`)

	m.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(ctx context.Context, id string) (*orchestrator.Session, error) {
	start := time.Now()
	m.logger.Debug("sqlite: get session", "session_id", id)

	row := m.db.QueryRowContext(ctx,
		`SELECT id, agent_name, status, history, history_config, trace, created_at, last_message_at
		 FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Debug("sqlite: get session not found", "session_id", id, "duration", time.Since(start))
		return nil, orchestrator.ErrSessionNotFound
	}
	if err != nil {
		m.logger.Error("sqlite: get session failed", "session_id", id, "error", err, "duration", time.Since(start))
		return nil, err
	}
	m.logger.Debug("sqlite: get session ok", "session_id", id, "history", len(s.History), "duration", time.Since(start))
	return s, nil
}

// Save upserts the session and refreshes its LastMessageAt.
func (m *Manager) Save(ctx context.Context, s *orchestrator.Session) error {
	start := time.Now()
	m.logger.Debug("sqlite: save session", "session_id", s.ID, "history", len(s.History), "trace", len(s.Trace))

	s.LastMessageAt = time.Now()
	history, config, trace, err := encodeSession(s)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, agent_name, status, history, history_config, trace, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AgentName, string(s.Status), history, config, trace,
		s.CreatedAt.UnixMilli(), s.LastMessageAt.UnixMilli(),
	)
	if err != nil {
		m.logger.Error("sqlite: save session failed", "session_id", s.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}
	m.logger.Debug("sqlite: save session ok", "session_id", s.ID, "duration", time.Since(start))
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
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_name, status, history, history_config, trace, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AgentName, string(s.Status), history, configJSON, trace,
		s.CreatedAt.UnixMilli(), s.LastMessageAt.UnixMilli(),
	)
	if err != nil {
		m.logger.Error("sqlite: create session failed", "session_id", s.ID, "error", err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Debug("sqlite: create session ok", "session_id", s.ID, "agent_name", agentName)
	return s, nil
}

// List returns sessions ordered by most recent activity first.
// A non-positive limit returns everything.
func (m *Manager) List(ctx context.Context, limit int) ([]*orchestrator.Session, error) {
	start := time.Now()
	m.logger.Debug("sqlite: list sessions", "limit", limit)

	query := `SELECT id, agent_name, status, history, history_config, trace, created_at, last_message_at
		 FROM sessions ORDER BY last_message_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		m.logger.Error("sqlite: list sessions failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list sessions: %w", err)
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
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	m.logger.Debug("sqlite: list sessions ok", "count", len(sessions), "duration", time.Since(start))
	return sessions, nil
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	start := time.Now()
	m.logger.Debug("sqlite: delete session", "session_id", id)

	res, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		m.logger.Error("sqlite: delete session failed", "session_id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orchestrator.ErrSessionNotFound
	}
	m.logger.Debug("sqlite: delete session ok", "session_id", id, "duration", time.Since(start))
	return nil
}

// UpdateStatus transitions a session's lifecycle state.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status orchestrator.SessionStatus) error {
	start := time.Now()
	m.logger.Debug("sqlite: update session status", "session_id", id, "status", status)

	res, err := m.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		m.logger.Error("sqlite: update session status failed", "session_id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orchestrator.ErrSessionNotFound
	}
	m.logger.Debug("sqlite: update session status ok", "session_id", id, "status", status, "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	m.logger.Debug("sqlite: closing session manager")
	err := m.db.Close()
	if err != nil {
		m.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// encodeSession marshals the JSON columns.
func encodeSession(s *orchestrator.Session) (history, config, trace string, err error) {
	h, err := json.Marshal(s.History)
	if err != nil {
		return "", "", "", fmt.Errorf("encode history: %w", err)
	}
	c, err := json.Marshal(s.HistoryConfig)
	if err != nil {
		return "", "", "", fmt.Errorf("encode history config: %w", err)
	}
	tr, err := json.Marshal(s.Trace)
	if err != nil {
		return "", "", "", fmt.Errorf("encode trace: %w", err)
	}
	return string(h), string(c), string(tr), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession decodes one sessions row. Empty history and trace decode
// to non-nil empty slices, matching NewSession.
func scanSession(row rowScanner) (*orchestrator.Session, error) {
	var (
		s           orchestrator.Session
		status      string
		history     string
		config      string
		trace       string
		createdAt   int64
		lastMessage int64
	)
	if err := row.Scan(&s.ID, &s.AgentName, &status, &history, &config, &trace, &createdAt, &lastMessage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = orchestrator.SessionStatus(status)
	s.History = []orchestrator.ChatMessage{}
	if err := json.Unmarshal([]byte(history), &s.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &s.HistoryConfig); err != nil {
		return nil, fmt.Errorf("decode history config: %w", err)
	}
	s.Trace = []orchestrator.TraceStep{}
	if err := json.Unmarshal([]byte(trace), &s.Trace); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.LastMessageAt = time.UnixMilli(lastMessage)
	return &s, nil
}
