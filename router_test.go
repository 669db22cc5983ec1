package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testAgents(names ...string) []AgentDefinition {
	agents := make([]AgentDefinition, len(names))
	for i, name := range names {
		agents[i] = AgentDefinition{
			AgentName:     name,
			Description:   "Handles " + name + " requests",
			DefaultConfig: DefaultAgentConfig(),
		}
	}
	return agents
}

func userMsg(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

func TestAgentRouterDispatch_NoAgents(t *testing.T) {
	r := NewAgentRouter(&stubProvider{})
	_, err := r.Dispatch(context.Background(), userMsg("hi"), nil, nil)
	if err == nil {
		t.Fatal("expected error for empty agent list")
	}
	var valErr *ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("got %T, want *ErrValidation", err)
	}
}

func TestAgentRouterDispatch_SingleAgentDirect(t *testing.T) {
	stub := &stubProvider{}
	r := NewAgentRouter(stub)
	tracer, session, _ := newTestTracer("router")

	decision, err := r.Dispatch(context.Background(), userMsg("hi"), testAgents("Only_Agent"), tracer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Agent.AgentName != "Only_Agent" {
		t.Errorf("got %q, want Only_Agent", decision.Agent.AgentName)
	}
	if decision.Confidence != 1.0 {
		t.Errorf("got confidence %v, want 1.0", decision.Confidence)
	}
	if stub.callCount() != 0 {
		t.Errorf("got %d LLM calls, want 0 for a single agent", stub.callCount())
	}
	got := traceEvents(session)
	want := []string{"routing_start", "routing_decision"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("trace events %v, want %v", got, want)
	}
}

func TestAgentRouterDispatch_ToolCallSelection(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{orch: toolTurn(ToolCall{
			ID:   "r1",
			Name: selectAgentToolName,
			Args: map[string]any{"agent_name": "Math_Agent", "reasoning": "arithmetic request"},
		})},
	}}
	r := NewAgentRouter(stub)
	tracer, session, _ := newTestTracer("router")

	decision, err := r.Dispatch(context.Background(), userMsg("what is 2+2?"),
		testAgents("Chat_Agent", "Math_Agent"), tracer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Agent.AgentName != "Math_Agent" {
		t.Errorf("got %q, want Math_Agent", decision.Agent.AgentName)
	}
	if decision.Confidence != 1.0 {
		t.Errorf("got confidence %v, want 1.0", decision.Confidence)
	}
	if decision.Reasoning != "arithmetic request" {
		t.Errorf("got reasoning %q", decision.Reasoning)
	}
	if countEvent(session, "routing_decision") != 1 {
		t.Error("routing_decision step missing")
	}

	// The single routing call must offer select_agent with the agent enum.
	req := stub.lastOrch
	if req.Model != routerModel || req.Temperature != routerTemperature || req.MaxTokens != routerMaxTokens {
		t.Errorf("router call settings = %s/%v/%d, want %s/%v/%d",
			req.Model, req.Temperature, req.MaxTokens, routerModel, routerTemperature, routerMaxTokens)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != selectAgentToolName {
		t.Fatalf("tools offered = %+v, want select_agent", req.Tools)
	}
	var enum []string
	for _, p := range req.Tools[0].Parameters {
		if p.Name == "agent_name" {
			enum = p.Enum
		}
	}
	if len(enum) != 2 || enum[0] != "Chat_Agent" || enum[1] != "Math_Agent" {
		t.Errorf("agent_name enum = %v", enum)
	}
	if len(req.Messages) != 2 || !strings.HasPrefix(req.Messages[1].Content, "Request to analyze: ") {
		t.Errorf("router messages = %+v", req.Messages)
	}
}

func TestAgentRouterDispatch_SubstringFallback(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{orch: finalText("I think math_agent fits best here.")},
	}}
	r := NewAgentRouter(stub)

	decision, err := r.Dispatch(context.Background(), userMsg("what is 2+2?"),
		testAgents("Chat_Agent", "Math_Agent"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Agent.AgentName != "Math_Agent" {
		t.Errorf("got %q, want Math_Agent via substring", decision.Agent.AgentName)
	}
	if decision.Confidence != 0.5 {
		t.Errorf("got confidence %v, want 0.5", decision.Confidence)
	}
}

func TestAgentRouterDispatch_NoSelectionDefaultsToFirst(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{orch: finalText("no idea")},
	}}
	r := NewAgentRouter(stub)

	decision, err := r.Dispatch(context.Background(), userMsg("hi"),
		testAgents("First_Agent", "Second_Agent"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Agent.AgentName != "First_Agent" {
		t.Errorf("got %q, want First_Agent", decision.Agent.AgentName)
	}
	if decision.Confidence != 0.0 {
		t.Errorf("got confidence %v, want 0.0", decision.Confidence)
	}
}

func TestAgentRouterDispatch_UnknownAgentInToolCall(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{orch: toolTurn(ToolCall{
			ID:   "r1",
			Name: selectAgentToolName,
			Args: map[string]any{"agent_name": "Ghost_Agent", "reasoning": "hallucinated"},
		})},
	}}
	r := NewAgentRouter(stub)

	decision, err := r.Dispatch(context.Background(), userMsg("hi"),
		testAgents("First_Agent", "Second_Agent"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Agent.AgentName != "First_Agent" {
		t.Errorf("got %q, want fallback to First_Agent", decision.Agent.AgentName)
	}
}

func TestAgentRouterDispatch_LLMFailureFallsBack(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errors.New("router provider down")},
	}}
	r := NewAgentRouter(stub)
	tracer, session, _ := newTestTracer("router")

	decision, err := r.Dispatch(context.Background(), userMsg("hi"),
		testAgents("First_Agent", "Second_Agent"), tracer)
	if err != nil {
		t.Fatalf("router must not fail on LLM errors, got %v", err)
	}
	if decision.Agent.AgentName != "First_Agent" || decision.Confidence != 0.0 {
		t.Errorf("got %q/%v, want First_Agent/0.0", decision.Agent.AgentName, decision.Confidence)
	}
	foundError := false
	for _, step := range session.Trace {
		if step.Event == "routing_error" && step.Component == ComponentRouter {
			foundError = true
		}
	}
	if !foundError {
		t.Error("routing_error trace step missing")
	}
	if lastEvent(session) != "routing_decision" {
		t.Errorf("trace ends with %q, want routing_decision", lastEvent(session))
	}
}

func TestSummarizeRequest(t *testing.T) {
	short := "short request"
	if got := summarizeRequest(short); got != short {
		t.Errorf("got %q, want unchanged", got)
	}
	long := strings.Repeat("a", 150)
	got := summarizeRequest(long)
	if got != strings.Repeat("a", 100)+"..." {
		t.Errorf("got %d chars, want 100 plus ellipsis", len(got))
	}
}
