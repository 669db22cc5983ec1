package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/store/memory"
)

// Identity of the agent synthesized when a request offers none.
const (
	defaultAgentName        = "assistant"
	defaultAgentDescription = "General-purpose assistant for open-ended requests"
)

// orchestrateRequest is the body of the orchestration endpoints. With no
// available_agents the service synthesizes a single agent from
// agent_config (one-shot) or from the session's agent name.
type orchestrateRequest struct {
	Message             string                     `json:"message"`
	AgentConfig         *orchestrator.AgentConfig  `json:"agent_config,omitempty"`
	ConversationHistory []orchestrator.ChatMessage `json:"conversation_history,omitempty"`
	AvailableAgents     []agentSpec                `json:"available_agents,omitempty"`
}

// agentSpec declares one routable agent in a request.
type agentSpec struct {
	AgentName     string                    `json:"agent_name"`
	Description   string                    `json:"description"`
	DefaultConfig *orchestrator.AgentConfig `json:"default_config,omitempty"`
}

// orchestrateResponse extends the core response with the routing outcome.
type orchestrateResponse struct {
	orchestrator.OrchestrationResponse
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
}

// normalizeConfig fills service-level defaults into a caller-supplied
// agent config. Zero temperature and max tokens pass through untouched;
// providers omit them from the wire.
func (s *Server) normalizeConfig(cfg *orchestrator.AgentConfig) {
	if cfg.Provider == "" {
		cfg.Provider = s.cfg.Providers.Default
	}
	if cfg.Retry == (orchestrator.RetryConfig{}) {
		cfg.Retry = orchestrator.DefaultRetryConfig()
	}
}

// buildAgents materializes the request's agent list. An empty list yields
// one synthetic general-purpose agent carrying the request's agent_config.
func (s *Server) buildAgents(req orchestrateRequest) ([]orchestrator.AgentDefinition, error) {
	if len(req.AvailableAgents) == 0 {
		cfg := orchestrator.DefaultAgentConfig()
		if req.AgentConfig != nil {
			cfg = *req.AgentConfig
		}
		s.normalizeConfig(&cfg)
		agent, err := orchestrator.NewAgentDefinition(defaultAgentName, defaultAgentDescription, cfg)
		if err != nil {
			return nil, err
		}
		return []orchestrator.AgentDefinition{agent}, nil
	}

	agents := make([]orchestrator.AgentDefinition, 0, len(req.AvailableAgents))
	for _, spec := range req.AvailableAgents {
		cfg := orchestrator.DefaultAgentConfig()
		switch {
		case spec.DefaultConfig != nil:
			cfg = *spec.DefaultConfig
		case req.AgentConfig != nil:
			cfg = *req.AgentConfig
		}
		s.normalizeConfig(&cfg)
		agent, err := orchestrator.NewAgentDefinition(spec.AgentName, spec.Description, cfg)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// validateHistory runs every caller-supplied message through the role and
// content guards before it reaches a provider.
func validateHistory(history []orchestrator.ChatMessage) ([]orchestrator.ChatMessage, error) {
	out := make([]orchestrator.ChatMessage, len(history))
	for i, m := range history {
		msg, err := orchestrator.NewMessage(m.Role, m.Content)
		if err != nil {
			return nil, err
		}
		out[i] = msg
	}
	return out, nil
}

// dispatch routes the message across agents. Routing never fails the
// request: an unavailable router provider falls back to the first agent.
func (s *Server) dispatch(ctx context.Context, userMsg orchestrator.ChatMessage, agents []orchestrator.AgentDefinition, tracer *orchestrator.Tracer) orchestrator.RoutingDecision {
	llm, err := s.providers.Resolve(s.cfg.Router.Provider)
	if err != nil {
		s.logger.Error("router provider unavailable",
			"provider", s.cfg.Router.Provider,
			"error", err)
		tracer.LogStep(ctx, orchestrator.ComponentRouter, "routing_error", map[string]any{
			"error_message": err.Error(),
		})
		return orchestrator.RoutingDecision{Agent: agents[0], Reasoning: "router unavailable fallback"}
	}
	router := orchestrator.NewAgentRouter(llm, orchestrator.RouterLogger(s.logger))
	decision, err := router.Dispatch(ctx, userMsg, agents, tracer)
	if err != nil {
		return orchestrator.RoutingDecision{Agent: agents[0], Reasoning: "router unavailable fallback"}
	}
	return decision
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required", "")
		return
	}
	userMsg, err := orchestrator.NewMessage(orchestrator.RoleUser, req.Message)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message", err.Error())
		return
	}
	history, err := validateHistory(req.ConversationHistory)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid conversation_history", err.Error())
		return
	}
	agents, err := s.buildAgents(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid agent definition", err.Error())
		return
	}

	// One-shot requests trace into a throwaway session so masking and
	// metrics derivation still apply; nothing is persisted past the request.
	ctx := r.Context()
	session := orchestrator.NewSession(agents[0].AgentName, orchestrator.DefaultHistoryConfig())
	tracer := orchestrator.NewTracer(session, memory.New(),
		orchestrator.TracerMetrics(s.collector),
		orchestrator.TracerLogger(s.logger))

	decision := s.dispatch(ctx, userMsg, agents, tracer)
	session.AgentName = decision.Agent.AgentName

	resp, _ := s.engine.Run(ctx, decision.Agent.DefaultConfig, append(history, userMsg), tracer)
	s.respond(w, http.StatusOK, orchestrateResponse{
		OrchestrationResponse: resp,
		Agent:                 decision.Agent.AgentName,
		Confidence:            decision.Confidence,
	})
}

func (s *Server) handleSessionOrchestrate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req orchestrateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required", "")
		return
	}
	userMsg, err := orchestrator.NewMessage(orchestrator.RoleUser, req.Message)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message", err.Error())
		return
	}

	ctx := r.Context()
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found", id)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "session lookup failed", err.Error())
		return
	}

	agents, err := s.sessionAgents(req, session)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid agent definition", err.Error())
		return
	}

	session.Status = orchestrator.StatusProcessing
	tracer := orchestrator.NewTracer(session, s.sessions,
		orchestrator.TracerMetrics(s.collector),
		orchestrator.TracerLogger(s.logger))

	decision := s.dispatch(ctx, userMsg, agents, tracer)

	session.History = append(session.History, userMsg)
	if err := s.sessions.Save(ctx, session); err != nil {
		s.respondError(w, http.StatusInternalServerError, "session not persisted", err.Error())
		return
	}

	resp, finalHistory := s.engine.Run(ctx, decision.Agent.DefaultConfig, session.History, tracer)
	session.History = finalHistory
	if resp.Content != "" {
		if msg, merr := orchestrator.NewMessage(orchestrator.RoleAssistant, resp.Content); merr == nil {
			session.History = append(session.History, msg)
		}
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.logger.Error("session not persisted after orchestration",
			"session_id", id,
			"error", err)
	}

	s.summarizer.SummarizeIfNeeded(ctx, session, tracer)

	status := orchestrator.StatusActive
	if resp.Usage.Error {
		status = orchestrator.StatusError
	}
	if err := s.sessions.UpdateStatus(ctx, id, status); err != nil {
		s.logger.Error("session status not updated",
			"session_id", id,
			"status", status,
			"error", err)
	}

	s.respond(w, http.StatusOK, orchestrateResponse{
		OrchestrationResponse: resp,
		Agent:                 decision.Agent.AgentName,
		Confidence:            decision.Confidence,
		SessionID:             id,
	})
}

// sessionAgents resolves the agents a session-bound request routes over:
// the request's own list when present, otherwise one agent named after
// the session.
func (s *Server) sessionAgents(req orchestrateRequest, session *orchestrator.Session) ([]orchestrator.AgentDefinition, error) {
	if len(req.AvailableAgents) > 0 {
		return s.buildAgents(req)
	}
	cfg := orchestrator.DefaultAgentConfig()
	if req.AgentConfig != nil {
		cfg = *req.AgentConfig
	}
	s.normalizeConfig(&cfg)
	agent, err := orchestrator.NewAgentDefinition(session.AgentName, "Session agent", cfg)
	if err != nil {
		return nil, err
	}
	return []orchestrator.AgentDefinition{agent}, nil
}
