package orchestrator

import (
	"context"
	"sync"
	"time"
)

// stubProvider is a test Provider that returns pre-configured results in
// order. Chat and Orchestrate share the same result queue via a shared
// call counter.
type stubProvider struct {
	mu       sync.Mutex
	name     string
	calls    int
	results  []stubResult
	lastOrch OrchestrationRequest
	lastChat ChatRequest
}

type stubResult struct {
	chat ChatResponse
	orch OrchestrationResponse
	err  error
}

func (s *stubProvider) next() stubResult {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return stubResult{}
}

func (s *stubProvider) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubProvider) Models() []string { return []string{"stub-model"} }

func (s *stubProvider) Healthy() bool { return true }

func (s *stubProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChat = req
	r := s.next()
	return r.chat, r.err
}

func (s *stubProvider) Orchestrate(_ context.Context, req OrchestrationRequest) (OrchestrationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOrch = req
	r := s.next()
	return r.orch, r.err
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ Provider = (*stubProvider)(nil)

// resolverFor returns a resolver that always yields p.
func resolverFor(p Provider) ProviderResolver {
	return ResolverFunc(func(string) (Provider, error) { return p, nil })
}

// finalText builds a plain-text orchestration turn (no tool calls).
func finalText(content string) OrchestrationResponse {
	return OrchestrationResponse{Content: content, Provider: "stub", Model: "stub-model"}
}

// toolTurn builds an orchestration turn requesting the given tool calls.
func toolTurn(calls ...ToolCall) OrchestrationResponse {
	return OrchestrationResponse{
		ToolCalls:             calls,
		Provider:              "stub",
		Model:                 "stub-model",
		RequiresToolExecution: true,
	}
}

// memStore is a working in-memory SessionManager for tests. failSave,
// when set, makes Save fail without storing.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	saves    int
	failSave error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.saves++
	s.LastMessageAt = time.Now()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) CreateNew(_ context.Context, agentName string, config *HistoryConfig) (*Session, error) {
	cfg := DefaultHistoryConfig()
	if config != nil {
		cfg = *config
	}
	s := NewSession(agentName, cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) List(_ context.Context, limit int) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	return nil
}

var _ SessionManager = (*memStore)(nil)

// newTestTracer wires a Tracer over a fresh session and memStore.
func newTestTracer(agentName string) (*Tracer, *Session, *memStore) {
	store := newMemStore()
	session := NewSession(agentName, DefaultHistoryConfig())
	store.sessions[session.ID] = session
	return NewTracer(session, store), session, store
}

// traceEvents lists the session's trace event names in append order.
func traceEvents(s *Session) []string {
	out := make([]string, len(s.Trace))
	for i, step := range s.Trace {
		out[i] = step.Event
	}
	return out
}

// countEvent counts trace steps with the given event name.
func countEvent(s *Session, event string) int {
	n := 0
	for _, step := range s.Trace {
		if step.Event == event {
			n++
		}
	}
	return n
}

// lastEvent returns the final trace step's event name, or "".
func lastEvent(s *Session) string {
	if len(s.Trace) == 0 {
		return ""
	}
	return s.Trace[len(s.Trace)-1].Event
}

// fakeMetrics is a counting MetricsRecorder.
type fakeMetrics struct {
	mu                sync.Mutex
	llmCalls          []string // provider/status
	toolExecs         []string // tool/status
	errors            []string // errorType/component
	retries           int
	sessionsCreated   int
	sessionsCompleted int
	active            int
}

func (f *fakeMetrics) RecordLLMCall(provider, _ string, _ float64, status string, _ map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.llmCalls = append(f.llmCalls, provider+"/"+status)
}

func (f *fakeMetrics) RecordToolExecution(tool string, _ float64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolExecs = append(f.toolExecs, tool+"/"+status)
}

func (f *fakeMetrics) RecordError(errorType, component string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorType+"/"+component)
}

func (f *fakeMetrics) RecordRetry(_, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeMetrics) RecordSessionCreated(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionsCreated++
}

func (f *fakeMetrics) RecordSessionCompleted(string, float64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionsCompleted++
}

func (f *fakeMetrics) SetActiveSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = n
}

var _ MetricsRecorder = (*fakeMetrics)(nil)

// testRegistry returns a registry with an echo tool, a failing tool, and a
// panicking tool, covering the executor's isolation paths.
func testRegistry() *ToolRegistry {
	r := NewToolRegistry()
	_ = r.Register(Tool{
		Definition: ToolDefinition{
			Name:        "echo",
			Description: "Echoes the text argument",
			Parameters: []ToolParameter{
				{Name: "text", Type: "string", Description: "Text to echo", Required: true},
				{Name: "upper", Type: "boolean", Description: "Uppercase the echo"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		},
	})
	_ = r.Register(Tool{
		Definition: ToolDefinition{Name: "fail", Description: "Always returns an error"},
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, &ErrLLM{Provider: "tool", Message: "broken"}
		},
	})
	_ = r.Register(Tool{
		Definition: ToolDefinition{Name: "boom", Description: "Always panics"},
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			panic("kaboom")
		},
	})
	return r
}

// validAgentConfig is DefaultAgentConfig with one allow-listed tool
// enabled. Orchestrator tests register stub implementations under the
// allow-listed names.
func validAgentConfig() AgentConfig {
	cfg := DefaultAgentConfig()
	cfg.ToolsEnabled = true
	cfg.AvailableTools = []string{"get_current_time"}
	return cfg
}

// stubTimeRegistry registers a deterministic stand-in for the
// get_current_time tool, so orchestrator tests can drive tool batches
// with allow-listed names.
func stubTimeRegistry() *ToolRegistry {
	r := NewToolRegistry()
	_ = r.Register(Tool{
		Definition: ToolDefinition{
			Name:        "get_current_time",
			Description: "Returns a fixed time",
			Parameters: []ToolParameter{
				{Name: "timezone_name", Type: "string", Description: "IANA timezone"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			tz, _ := args["timezone_name"].(string)
			if tz == "" {
				tz = "UTC"
			}
			return "Current time: 2024-01-01 12:00:00 " + tz, nil
		},
	})
	return r
}
