package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/internal/config"
	"github.com/sylvainbonnecarrere/A-IR-OB1/metrics"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/resolve"
	"github.com/sylvainbonnecarrere/A-IR-OB1/store/memory"
)

// stubProvider pops orchestration results in order and serves one canned
// chat response. It records the last request of each kind for assertions.
type stubProvider struct {
	mu       sync.Mutex
	chatResp orchestrator.ChatResponse
	chatErr  error
	orch     []orchestrator.OrchestrationResponse
	orchErr  error
	lastChat orchestrator.ChatRequest
	lastOrch orchestrator.OrchestrationRequest
}

func (s *stubProvider) Chat(_ context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChat = req
	if s.chatErr != nil {
		return orchestrator.ChatResponse{}, s.chatErr
	}
	resp := s.chatResp
	if resp.Provider == "" {
		resp.Provider = s.Name()
	}
	return resp, nil
}

func (s *stubProvider) Orchestrate(_ context.Context, req orchestrator.OrchestrationRequest) (orchestrator.OrchestrationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOrch = req
	if s.orchErr != nil {
		return orchestrator.OrchestrationResponse{}, s.orchErr
	}
	if len(s.orch) == 0 {
		return orchestrator.OrchestrationResponse{Content: "ok", Provider: s.Name()}, nil
	}
	resp := s.orch[0]
	s.orch = s.orch[1:]
	if resp.Provider == "" {
		resp.Provider = s.Name()
	}
	return resp, nil
}

func (s *stubProvider) Name() string     { return "openai" }
func (s *stubProvider) Models() []string { return []string{"stub-model"} }
func (s *stubProvider) Healthy() bool    { return true }

func (s *stubProvider) lastChatReq() orchestrator.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChat
}

func (s *stubProvider) lastOrchReq() orchestrator.OrchestrationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOrch
}

var _ orchestrator.Provider = (*stubProvider)(nil)

// newTestServer wires a Server over an in-memory store and a factory
// whose openai constructor returns stub, so every default-config path
// lands on the stub. mutate may adjust the config before wiring.
func newTestServer(t *testing.T, stub *stubProvider, mutate func(*config.Config)) *httptest.Server {
	t.Helper()

	factory := resolve.NewFactory()
	factory.Register("openai", "stub-model", func(resolve.Config) orchestrator.Provider { return stub })
	resolver := resolve.NewResolver(factory, func(name string) string {
		if name == "openai" {
			return "test-key"
		}
		return ""
	})

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	registry := orchestrator.NewToolRegistry()
	if err := registry.Register(orchestrator.Tool{
		Definition: orchestrator.ToolDefinition{
			Name:        "get_current_time",
			Description: "Returns the current time",
		},
		Fn: func(context.Context, map[string]any) (any, error) { return "12:00", nil },
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	executor := orchestrator.NewToolExecutor(registry)

	srv := New(cfg, memory.New(), resolver, executor,
		WithCollector(metrics.NewCollector()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	decodeResponse(t, resp, dst)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("got status %q, want healthy", body["status"])
	}
	if body["version"] != Version {
		t.Errorf("got version %q, want %q", body["version"], Version)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
	}
	for header, value := range want {
		if got := resp.Header.Get(header); got != value {
			t.Errorf("%s: got %q, want %q", header, got, value)
		}
	}
}

func TestCORS_Development(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("got Allow-Origin %q, want *", got)
	}
}

func TestCORS_Production(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, func(cfg *config.Config) {
		cfg.Server.Environment = "production"
		cfg.Server.AllowedOrigins = "https://app.example.com"
	})

	cases := []struct {
		name   string
		origin string
		want   string
	}{
		{"listed origin echoed", "https://app.example.com", "https://app.example.com"},
		{"unlisted origin refused", "https://evil.example.com", ""},
		{"no origin header", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer resp.Body.Close()
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Errorf("got Allow-Origin %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/sessions", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods %q missing POST", got)
	}
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	var body struct {
		Version   string            `json:"version"`
		Status    string            `json:"status"`
		Endpoints map[string]string `json:"endpoints"`
	}
	resp := getJSON(t, ts.URL+"/", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Status != "running" {
		t.Errorf("got status %q, want running", body.Status)
	}
	if body.Endpoints["sessions"] != "/sessions" {
		t.Errorf("endpoints map incomplete: %v", body.Endpoints)
	}
}

func TestProviders(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	var body struct {
		Providers []string `json:"providers"`
		Default   string   `json:"default"`
		Count     int      `json:"count"`
	}
	resp := getJSON(t, ts.URL+"/providers", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Default != "openai" {
		t.Errorf("got default %q, want openai", body.Default)
	}
	if body.Count != len(body.Providers) || body.Count < 8 {
		t.Errorf("got %d providers (count %d), want the 8 builtins", len(body.Providers), body.Count)
	}
}

func TestProvidersInfo(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	var body struct {
		Providers map[string]resolve.ProviderInfo `json:"providers"`
		Count     int                             `json:"count"`
	}
	resp := getJSON(t, ts.URL+"/providers/info", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	info, ok := body.Providers["openai"]
	if !ok {
		t.Fatalf("openai missing from info: %v", body.Providers)
	}
	if !info.KeyConfigured {
		t.Error("openai key_configured = false, want true")
	}
	if info.DefaultModel != "stub-model" {
		t.Errorf("got default model %q, want stub-model", info.DefaultModel)
	}
	if anth, ok := body.Providers["anthropic"]; ok {
		if anth.KeyConfigured {
			t.Error("anthropic key_configured = true without a key")
		}
	} else {
		t.Error("anthropic missing from info")
	}
}

func TestDebugFactory(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	var body struct {
		Available []string `json:"available_providers"`
		CacheSize int      `json:"cache_size"`
	}
	resp := getJSON(t, ts.URL+"/debug/factory", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if len(body.Available) < 8 {
		t.Errorf("got %d providers, want the 8 builtins", len(body.Available))
	}
}

func TestChat(t *testing.T) {
	stub := &stubProvider{chatResp: orchestrator.ChatResponse{
		Content: "Hello there",
		Model:   "stub-model",
		Usage:   orchestrator.Usage{TotalTokens: 7},
	}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/chat", map[string]any{"message": "Hi"})
	var body orchestrator.ChatResponse
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Content != "Hello there" {
		t.Errorf("got content %q", body.Content)
	}
	if got := stub.lastChatReq(); len(got.Messages) != 1 || got.Messages[0].Content != "Hi" {
		t.Errorf("provider saw %v", got.Messages)
	}
}

func TestChat_Validation(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing message", map[string]any{}, http.StatusBadRequest},
		{"unknown provider", map[string]any{"message": "hi", "provider": "nope"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/chat", tc.body)
			decodeResponse(t, resp, nil)
			if resp.StatusCode != tc.want {
				t.Errorf("got status %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestChat_ProviderError(t *testing.T) {
	stub := &stubProvider{chatErr: errors.New("upstream down")}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/chat", map[string]any{"message": "hi"})
	var body errorBody
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(body.Details, "upstream down") {
		t.Errorf("details %q missing provider error", body.Details)
	}
}

func TestTestService_DefaultMessage(t *testing.T) {
	stub := &stubProvider{chatResp: orchestrator.ChatResponse{Content: "pong"}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/test-service", nil)
	var body serviceTestResponse
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if !body.Success || body.Response != "pong" {
		t.Errorf("got %+v, want success with pong", body)
	}
	if got := stub.lastChatReq(); len(got.Messages) != 1 || got.Messages[0].Content != defaultTestMessage {
		t.Errorf("provider saw %v, want the default test message", got.Messages)
	}
}

func TestProviderTest_Failure(t *testing.T) {
	stub := &stubProvider{chatErr: errors.New("bad key")}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/providers/openai/test", map[string]any{"message": "ping"})
	var body serviceTestResponse
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200 (probe failures are payload, not status)", resp.StatusCode)
	}
	if body.Success {
		t.Error("got success=true, want false")
	}
	if !strings.Contains(body.Error, "bad key") {
		t.Errorf("got error %q", body.Error)
	}
}

func TestProviderTest_Unknown(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp := postJSON(t, ts.URL+"/providers/made_up/test", nil)
	decodeResponse(t, resp, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestOrchestrate_PlainResponse(t *testing.T) {
	stub := &stubProvider{orch: []orchestrator.OrchestrationResponse{
		{Content: "Paris.", Usage: orchestrator.Usage{TotalTokens: 12}},
	}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/orchestrate", map[string]any{"message": "Capital of France?"})
	var body struct {
		Content    string             `json:"content"`
		Agent      string             `json:"agent"`
		Confidence float64            `json:"confidence"`
		Usage      orchestrator.Usage `json:"usage"`
	}
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Content != "Paris." {
		t.Errorf("got content %q", body.Content)
	}
	if body.Agent != "assistant" || body.Confidence != 1.0 {
		t.Errorf("got agent %q confidence %v, want synthesized assistant at 1.0", body.Agent, body.Confidence)
	}
	// The synthesized agent's system prompt must lead the provider messages.
	if got := stub.lastOrchReq(); len(got.Messages) == 0 || got.Messages[0].Role != orchestrator.RoleSystem {
		t.Errorf("provider request not prefixed with system prompt: %v", got.Messages)
	}
}

func TestOrchestrate_ToolLoop(t *testing.T) {
	stub := &stubProvider{orch: []orchestrator.OrchestrationResponse{
		{
			ToolCalls:             []orchestrator.ToolCall{{ID: "call_1", Name: "get_current_time", Args: map[string]any{}}},
			RequiresToolExecution: true,
		},
		{Content: "It is noon."},
	}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/orchestrate", map[string]any{
		"message": "What time is it?",
		"agent_config": map[string]any{
			"provider":        "openai",
			"tools_enabled":   true,
			"available_tools": []string{"get_current_time"},
		},
	})
	var body struct {
		Content string `json:"content"`
	}
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Content != "It is noon." {
		t.Errorf("got content %q", body.Content)
	}
	// Second LLM call must carry the tool feedback.
	last := stub.lastOrchReq()
	var sawResult bool
	for _, m := range last.Messages {
		if strings.Contains(m.Content, "Tool result:") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Errorf("tool feedback missing from follow-up messages: %v", last.Messages)
	}
}

func TestOrchestrate_RoutesAcrossAgents(t *testing.T) {
	stub := &stubProvider{orch: []orchestrator.OrchestrationResponse{
		// Routing decision, then the selected agent's answer.
		{ToolCalls: []orchestrator.ToolCall{{
			ID:   "route_1",
			Name: "select_agent",
			Args: map[string]any{"agent_name": "math_agent", "reasoning": "arithmetic request"},
		}}},
		{Content: "4"},
	}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/orchestrate", map[string]any{
		"message": "2+2?",
		"available_agents": []map[string]any{
			{"agent_name": "code_agent", "description": "Writes code"},
			{"agent_name": "math_agent", "description": "Does arithmetic"},
		},
	})
	var body struct {
		Content    string  `json:"content"`
		Agent      string  `json:"agent"`
		Confidence float64 `json:"confidence"`
	}
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Agent != "math_agent" {
		t.Errorf("got agent %q, want math_agent", body.Agent)
	}
	if body.Confidence != 1.0 {
		t.Errorf("got confidence %v, want 1.0 for a tool-call selection", body.Confidence)
	}
	if body.Content != "4" {
		t.Errorf("got content %q", body.Content)
	}
}

func TestOrchestrate_Validation(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing message", map[string]any{}},
		{"bad agent name", map[string]any{
			"message":          "hi",
			"available_agents": []map[string]any{{"agent_name": "not a name!", "description": "x"}},
		}},
		{"bad history role", map[string]any{
			"message":              "hi",
			"conversation_history": []map[string]any{{"role": "wizard", "content": "abracadabra"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/orchestrate", tc.body)
			decodeResponse(t, resp, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("got status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestOrchestrate_ErrorEnvelopeIsHTTP200(t *testing.T) {
	stub := &stubProvider{orchErr: errors.New("model overloaded")}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/orchestrate", map[string]any{
		"message": "hi",
		"agent_config": map[string]any{
			"provider":     "openai",
			"retry_config": map[string]any{"max_attempts": 1, "delay_base": 100000000},
		},
	})
	var body struct {
		Content string             `json:"content"`
		Usage   orchestrator.Usage `json:"usage"`
	}
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200 (orchestration errors ride the envelope)", resp.StatusCode)
	}
	if !body.Usage.Error {
		t.Fatal("usage.error = false, want true")
	}
	if !strings.HasPrefix(body.Content, "[ORCHESTRATION_ERROR") {
		t.Errorf("got content %q, want orchestration error envelope", body.Content)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	// Create
	resp := postJSON(t, ts.URL+"/sessions", map[string]any{"agent_name": "helper"})
	var created orchestrator.Session
	decodeResponse(t, resp, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}
	if created.ID == "" || created.AgentName != "helper" {
		t.Fatalf("got session %+v", created)
	}
	if created.Status != orchestrator.StatusActive {
		t.Errorf("got status %s, want ACTIVE", created.Status)
	}

	// Get
	var fetched orchestrator.Session
	resp = getJSON(t, ts.URL+"/sessions/"+created.ID, &fetched)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if fetched.ID != created.ID {
		t.Errorf("got %q, want %q", fetched.ID, created.ID)
	}

	// List
	var list struct {
		Sessions []sessionSummary `json:"sessions"`
		Count    int              `json:"count"`
	}
	resp = getJSON(t, ts.URL+"/sessions", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if list.Count != 1 || len(list.Sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", list.Count)
	}
	if list.Sessions[0].ID != created.ID {
		t.Errorf("got %q, want %q", list.Sessions[0].ID, created.ID)
	}

	// Delete
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+created.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delResp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", delResp.StatusCode)
	}

	// Gone
	resp, err = http.Get(ts.URL + "/sessions/" + created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404 after delete", resp.StatusCode)
	}
}

func TestSessionCreate_Validation(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing agent_name", map[string]any{}},
		{"malformed agent_name", map[string]any{"agent_name": "9lives!"}},
		{"bad history_config", map[string]any{
			"agent_name":     "helper",
			"history_config": map[string]any{"enabled": true, "message_threshold": -3},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/sessions", tc.body)
			decodeResponse(t, resp, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("got status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSessionOrchestrate(t *testing.T) {
	stub := &stubProvider{orch: []orchestrator.OrchestrationResponse{
		{Content: "Happy to help."},
	}}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/sessions", map[string]any{"agent_name": "helper"})
	var created orchestrator.Session
	decodeResponse(t, resp, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/sessions/"+created.ID+"/orchestrate", map[string]any{"message": "help me"})
	var body struct {
		Content   string `json:"content"`
		Agent     string `json:"agent"`
		SessionID string `json:"session_id"`
	}
	decodeResponse(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if body.Content != "Happy to help." {
		t.Errorf("got content %q", body.Content)
	}
	if body.Agent != "helper" || body.SessionID != created.ID {
		t.Errorf("got agent %q session %q", body.Agent, body.SessionID)
	}

	var after orchestrator.Session
	resp = getJSON(t, ts.URL+"/sessions/"+created.ID, &after)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if len(after.History) != 2 {
		t.Fatalf("got %d history messages, want user+assistant", len(after.History))
	}
	if after.History[0].Role != orchestrator.RoleUser || after.History[1].Role != orchestrator.RoleAssistant {
		t.Errorf("got roles %s/%s", after.History[0].Role, after.History[1].Role)
	}
	if after.Status != orchestrator.StatusActive {
		t.Errorf("got status %s, want ACTIVE", after.Status)
	}
	if len(after.Trace) == 0 {
		t.Error("orchestration left no trace on the session")
	}
}

func TestSessionOrchestrate_NotFound(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp := postJSON(t, ts.URL+"/sessions/missing/orchestrate", map[string]any{"message": "hi"})
	decodeResponse(t, resp, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", resp.StatusCode)
	}
}

func TestSessionOrchestrate_SummarizesHistory(t *testing.T) {
	stub := &stubProvider{
		orch:     []orchestrator.OrchestrationResponse{{Content: "Done, anything else?"}},
		chatResp: orchestrator.ChatResponse{Content: "User requested help and was helped."},
	}
	ts := newTestServer(t, stub, nil)

	resp := postJSON(t, ts.URL+"/sessions", map[string]any{
		"agent_name":     "helper",
		"history_config": map[string]any{"enabled": true, "message_threshold": 2},
	})
	var created orchestrator.Session
	decodeResponse(t, resp, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/sessions/"+created.ID+"/orchestrate", map[string]any{"message": "help me"})
	decodeResponse(t, resp, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var after orchestrator.Session
	getJSON(t, ts.URL+"/sessions/"+created.ID, &after)
	if len(after.History) != 2 {
		t.Fatalf("got %d history messages, want [summary, last user]", len(after.History))
	}
	if !strings.HasPrefix(after.History[0].Content, "[AUTOMATIC SUMMARY] ") {
		t.Errorf("got %q, want automatic summary prefix", after.History[0].Content)
	}
	if after.History[1].Role != orchestrator.RoleUser || after.History[1].Content != "help me" {
		t.Errorf("last user message not preserved: %+v", after.History[1])
	}
}

func TestSessionList_InvalidLimit(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp, err := http.Get(ts.URL + "/sessions?limit=banana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	// A session create feeds the session counters before scraping.
	resp := postJSON(t, ts.URL+"/sessions", map[string]any{"agent_name": "helper"})
	decodeResponse(t, resp, nil)

	mResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mResp.Body.Close()
	if mResp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", mResp.StatusCode)
	}
	exposition, err := io.ReadAll(mResp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, series := range []string{"application_info", "session_count", "active_sessions_current"} {
		if !bytes.Contains(exposition, []byte(series)) {
			t.Errorf("exposition missing %s", series)
		}
	}
}

func TestDocs(t *testing.T) {
	ts := newTestServer(t, &stubProvider{}, nil)

	resp, err := http.Get(ts.URL + "/docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("got Content-Type %q, want text/html", ct)
	}
	page, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(page, []byte("API Reference")) {
		t.Error("rendered docs missing the reference title")
	}
}
