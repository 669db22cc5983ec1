// Package api exposes the orchestration service over HTTP: provider
// discovery and smoke tests, single-turn chat, one-shot and session-aware
// orchestration, session CRUD, Prometheus exposition, and rendered API
// documentation. All responses are UTF-8 JSON (except /metrics and /docs)
// and carry the service security headers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/internal/config"
	"github.com/sylvainbonnecarrere/A-IR-OB1/metrics"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/resolve"
)

// Version is reported by the service-info and health endpoints.
const Version = "1.0.0"

// Server routes HTTP requests to the orchestration core. Build one with
// New; the zero value is not usable.
type Server struct {
	cfg        config.Config
	sessions   orchestrator.SessionManager
	resolver   *resolve.Resolver
	providers  orchestrator.ProviderResolver
	executor   *orchestrator.ToolExecutor
	engine     *orchestrator.Orchestrator
	summarizer *orchestrator.HistorySummarizer
	collector  *metrics.Collector
	logger     *slog.Logger
	mux        http.Handler
	docsHTML   []byte
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger for request handling.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCollector sets the Prometheus collector backing /metrics and the
// per-request tracers. Defaults to the process-wide collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithProviders overrides the resolver the chat and orchestration paths
// use, for decorated providers (observability wrappers). The provider
// listing and debug endpoints keep reading the underlying resolver.
func WithProviders(p orchestrator.ProviderResolver) Option {
	return func(s *Server) { s.providers = p }
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New wires the HTTP surface over a session store, a provider resolver,
// and a tool executor. The orchestration engine and the history
// summarizer are built here so every endpoint shares one instance of each.
func New(cfg config.Config, sessions orchestrator.SessionManager, resolver *resolve.Resolver, executor *orchestrator.ToolExecutor, opts ...Option) *Server {
	if cfg.Router.Provider == "" {
		cfg.Router.Provider = cfg.Providers.Default
	}
	if cfg.Summarizer.Provider == "" {
		cfg.Summarizer.Provider = cfg.Providers.Default
	}

	s := &Server{cfg: cfg, sessions: sessions, resolver: resolver, executor: executor}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(discardHandler{})
	}
	if s.collector == nil {
		s.collector = metrics.Default()
	}
	if s.providers == nil {
		s.providers = resolver
	}

	s.engine = orchestrator.NewOrchestrator(s.providers, executor,
		orchestrator.OrchestratorLogger(s.logger))
	s.summarizer = orchestrator.NewHistorySummarizer(sessions, s.providers,
		orchestrator.SummarizerLogger(s.logger))

	html, err := renderDocs()
	if err != nil {
		s.logger.Error("docs not rendered", "error", err)
	}
	s.docsHTML = html

	s.mux = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(securityHeaders)
	r.Use(corsMiddleware(s.cfg.Server.Production(), s.cfg.Server.Origins()))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/docs", s.handleDocs)
	r.Get("/metrics", s.collector.Handler().ServeHTTP)

	r.Get("/providers", s.handleProviders)
	r.Get("/providers/info", s.handleProvidersInfo)
	r.Post("/providers/{provider}/test", s.handleProviderTest)
	r.Post("/test-service", s.handleTestService)
	r.Get("/debug/factory", s.handleDebugFactory)

	r.Post("/chat", s.handleChat)
	r.Post("/orchestrate", s.handleOrchestrate)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleSessionCreate)
		r.Get("/", s.handleSessionList)
		r.Get("/{id}", s.handleSessionGet)
		r.Delete("/{id}", s.handleSessionDelete)
		r.Post("/{id}/orchestrate", s.handleSessionOrchestrate)
	})

	return r
}

// Handler exposes the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the HTTP server until Stop is called or the listener fails.
// It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening",
		"addr", s.cfg.Server.Addr,
		"environment", s.cfg.Server.Environment)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully, letting in-flight requests drain
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// errorBody is the error payload shape shared by every endpoint.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response not encoded", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, details string) {
	s.respond(w, status, errorBody{Error: message, Details: details})
}

// decodeJSON decodes a request body into dst. An empty body surfaces as
// io.EOF so handlers with optional bodies can substitute defaults.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
