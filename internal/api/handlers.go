package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/resolve"
)

// defaultTestMessage is sent by the smoke-test endpoints when the caller
// does not supply one.
const defaultTestMessage = "Hello, AI!"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"message": "🤖 A-IR-OB1 - AI Agent Orchestrator",
		"version": Version,
		"status":  "running",
		"endpoints": map[string]string{
			"health":       "/health",
			"docs":         "/docs",
			"metrics":      "/metrics",
			"providers":    "/providers",
			"test_service": "/test-service",
			"chat":         "/chat",
			"orchestrate":  "/orchestrate",
			"sessions":     "/sessions",
		},
		"repository": "https://github.com/sylvainbonnecarrere/A-IR-OB1",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := s.resolver.Providers()
	s.respond(w, http.StatusOK, map[string]any{
		"providers": names,
		"default":   s.cfg.Providers.Default,
		"count":     len(names),
	})
}

func (s *Server) handleProvidersInfo(w http.ResponseWriter, r *http.Request) {
	info := s.resolver.Info()
	s.respond(w, http.StatusOK, map[string]any{
		"providers": info,
		"count":     len(info),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleDebugFactory(w http.ResponseWriter, r *http.Request) {
	names := s.resolver.Providers()
	s.respond(w, http.StatusOK, map[string]any{
		"available_providers": names,
		"cache_size":          s.resolver.CacheSize(),
		"registered_adapters": names,
		"timestamp":           time.Now().Format(time.RFC3339),
	})
}

// serviceTestRequest is the optional body of the smoke-test endpoints.
type serviceTestRequest struct {
	Message string `json:"message"`
}

type serviceTestResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleTestService(w http.ResponseWriter, r *http.Request) {
	var req serviceTestRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	s.testProvider(r.Context(), w, s.cfg.Providers.Default, req.Message)
}

func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	var req serviceTestRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	s.testProvider(r.Context(), w, chi.URLParam(r, "provider"), req.Message)
}

// testProvider sends one user message through the named provider. An
// unknown provider is a 400; a provider-side failure is a success:false
// body, so callers can probe credentials without tripping error handling.
func (s *Server) testProvider(ctx context.Context, w http.ResponseWriter, name, message string) {
	if message == "" {
		message = defaultTestMessage
	}
	provider, err := s.providers.Resolve(name)
	if err != nil {
		if errors.Is(err, resolve.ErrUnknownProvider) {
			s.respondError(w, http.StatusBadRequest, "unknown provider", err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "provider resolution failed", err.Error())
		return
	}
	msg, err := orchestrator.NewMessage(orchestrator.RoleUser, message)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message", err.Error())
		return
	}

	resp, err := provider.Chat(ctx, orchestrator.ChatRequest{Messages: []orchestrator.ChatMessage{msg}})
	if err != nil {
		s.respond(w, http.StatusOK, serviceTestResponse{Success: false, Provider: name, Error: err.Error()})
		return
	}
	s.respond(w, http.StatusOK, serviceTestResponse{Success: true, Provider: name, Response: resp.Content})
}

// chatRequest is the body of POST /chat. Max tokens and temperature are
// pointers so an explicit zero survives the service defaults.
type chatRequest struct {
	Message     string   `json:"message"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required", "")
		return
	}
	msg, err := orchestrator.NewMessage(orchestrator.RoleUser, req.Message)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message", err.Error())
		return
	}

	name := req.Provider
	if name == "" {
		name = s.cfg.Providers.Default
	}
	provider, err := s.providers.Resolve(name)
	if err != nil {
		if errors.Is(err, resolve.ErrUnknownProvider) {
			s.respondError(w, http.StatusBadRequest, "unknown provider", err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "provider resolution failed", err.Error())
		return
	}

	maxTokens := orchestrator.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := orchestrator.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := provider.Chat(r.Context(), orchestrator.ChatRequest{
		Messages:    []orchestrator.ChatMessage{msg},
		Model:       orchestrator.SanitizeText(req.Model),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "chat completion failed", err.Error())
		return
	}
	s.respond(w, http.StatusOK, resp)
}
