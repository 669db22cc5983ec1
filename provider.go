package orchestrator

import "context"

// Provider abstracts one LLM backend.
//
// The core treats providers as opaque: the only semantic contract is that
// a non-empty OrchestrationResponse.ToolCalls implies
// RequiresToolExecution = true. Tool-schema emission is internal to each
// provider family (openaicompat, anthropic, gemini).
type Provider interface {
	// Chat sends a plain completion request; no tools are offered.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Orchestrate sends a request that may offer tools. The response
	// carries the model's tool calls, if any, for the caller to execute.
	Orchestrate(ctx context.Context, req OrchestrationRequest) (OrchestrationResponse, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
	// Models returns the model identifiers this provider accepts.
	Models() []string
	// Healthy reports whether the provider is configured well enough to
	// accept calls. It checks credentials, not network reachability.
	Healthy() bool
}

// ProviderResolver supplies configured providers by name. The
// provider/resolve package implements it with a cached factory.
type ProviderResolver interface {
	Resolve(name string) (Provider, error)
}

// ResolverFunc adapts a function to the ProviderResolver interface.
type ResolverFunc func(name string) (Provider, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(name string) (Provider, error) { return f(name) }
