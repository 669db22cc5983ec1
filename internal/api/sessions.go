package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

const defaultListLimit = 50

// sessionCreateRequest is the body of POST /sessions. The history config
// is kept raw so caller-supplied fields overlay the service defaults
// instead of zeroing them.
type sessionCreateRequest struct {
	AgentName     string          `json:"agent_name"`
	HistoryConfig json.RawMessage `json:"history_config,omitempty"`
}

// sessionSummary is the list-view projection of a session.
type sessionSummary struct {
	ID            string                     `json:"session_id"`
	AgentName     string                     `json:"agent_name"`
	Status        orchestrator.SessionStatus `json:"status"`
	Messages      int                        `json:"messages"`
	CreatedAt     time.Time                  `json:"created_at"`
	LastMessageAt time.Time                  `json:"last_message_at"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	name := orchestrator.SanitizeText(req.AgentName)
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "agent_name is required", "")
		return
	}
	if err := orchestrator.ValidateAgentName(name); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid agent_name", err.Error())
		return
	}

	var hc *orchestrator.HistoryConfig
	if len(req.HistoryConfig) > 0 && string(req.HistoryConfig) != "null" {
		merged := orchestrator.DefaultHistoryConfig()
		merged.Provider = s.cfg.Summarizer.Provider
		merged.ModelVersion = s.cfg.Summarizer.Model
		if err := json.Unmarshal(req.HistoryConfig, &merged); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid history_config", err.Error())
			return
		}
		if err := merged.Validate(); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid history_config", err.Error())
			return
		}
		hc = &merged
	}

	session, err := s.sessions.CreateNew(r.Context(), name, hc)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "session not created", err.Error())
		return
	}
	s.collector.RecordSessionCreated(name)
	s.refreshActiveSessions(r.Context())

	s.logger.Info("session created", "session_id", session.ID, "agent_name", name)
	s.respond(w, http.StatusCreated, session)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found", id)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "session lookup failed", err.Error())
		return
	}
	s.respond(w, http.StatusOK, session)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "session listing failed", err.Error())
		return
	}
	summaries := make([]sessionSummary, len(sessions))
	for i, sess := range sessions {
		summaries[i] = sessionSummary{
			ID:            sess.ID,
			AgentName:     sess.AgentName,
			Status:        sess.Status,
			Messages:      sess.Messages(),
			CreatedAt:     sess.CreatedAt,
			LastMessageAt: sess.LastMessageAt,
		}
	}
	s.respond(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found", id)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "session lookup failed", err.Error())
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found", id)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "session not deleted", err.Error())
		return
	}

	s.collector.RecordSessionCompleted(session.AgentName,
		time.Since(session.CreatedAt).Seconds(), session.Messages())
	s.refreshActiveSessions(r.Context())

	s.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// refreshActiveSessions re-derives the active-session gauge from the
// store. Errors are dropped; the gauge self-corrects on the next change.
func (s *Server) refreshActiveSessions(ctx context.Context) {
	sessions, err := s.sessions.List(ctx, 0)
	if err != nil {
		return
	}
	s.collector.SetActiveSessions(len(sessions))
}
