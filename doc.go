// Package orchestrator routes conversational requests across AI agents and
// executes them against multiple LLM providers.
//
// It provides the building blocks of an agent orchestration service: an
// LLM-driven agent router, a bounded reason-and-act orchestration engine
// with concurrent tool execution, a resilient provider wrapper with
// classified retries, session persistence with automatic history
// summarization, and a masking tracer that doubles as a metrics feed.
//
// # Quick Start
//
// Wire an engine from a provider resolver and a tool registry:
//
//	resolver := resolve.NewResolver(resolve.Default, cfg.KeyFor)
//	registry := orchestrator.NewToolRegistry()
//	builtin.Register(registry)
//
//	executor := orchestrator.NewToolExecutor(registry)
//	engine := orchestrator.NewOrchestrator(resolver, executor)
//
//	session := orchestrator.NewSession("assistant", orchestrator.DefaultHistoryConfig())
//	tracer := orchestrator.NewTracer(session, sessions)
//
//	response, history := engine.Run(ctx, orchestrator.DefaultAgentConfig(), messages, tracer)
//
// Run never returns an error: every failure is folded into the response as
// an orchestration error envelope with a machine-readable code in Usage.
//
// # Core Interfaces
//
// The root package defines the contracts the subpackages implement:
//
//   - [Provider] — LLM backend (plain chat and tool-offering orchestration)
//   - [ProviderResolver] — named, configured provider lookup
//   - [SessionManager] — session persistence (memory, SQLite, Postgres)
//   - [Tool] — capability exposed to models for function calling
//   - [MetricsRecorder] — sink the Tracer derives measurements into
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI, Mistral, Grok, Qwen, DeepSeek,
// Kimi K2), provider/anthropic, provider/gemini, created through
// provider/resolve. Storage: store/memory, store/sqlite, store/postgres.
// Tools: tools/builtin. Observability: metrics (Prometheus), observer
// (OTLP export).
//
// See cmd/orchestrator for the complete HTTP service.
package orchestrator
