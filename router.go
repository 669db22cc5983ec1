package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Router LLM settings. Routing is a single short decision, so it runs on a
// fast model at low temperature regardless of the selected agent's config.
const (
	routerModel       = "gpt-3.5-turbo"
	routerTemperature = 0.1
	routerMaxTokens   = 200
)

const selectAgentToolName = "select_agent"

const routerSystemPrompt = `You are an intelligent router specialized in agent selection.

Your mission: analyze the user request and choose the most appropriate agent.

Guidelines:
1. Read the user request carefully.
2. Analyze the capabilities of each available agent.
3. Select the agent whose skills best match the request.
4. You MUST use the select_agent function to register your choice.
5. Justify your reasoning clearly and concisely.

If the request is ambiguous, choose the most general-purpose agent.`

// RoutingDecision is the router's outcome: which agent handles the request
// and how that choice was made.
type RoutingDecision struct {
	Agent      AgentDefinition `json:"agent"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// AgentRouter selects one agent per request via a structured LLM
// function-call decision. It is never a hard failure mode for the caller:
// any internal error falls back to the first available agent. The only
// returned error is the empty-agent-list precondition.
type AgentRouter struct {
	llm    Provider
	logger *slog.Logger
}

// RouterOption configures an AgentRouter.
type RouterOption func(*AgentRouter)

// RouterLogger sets the structured logger for routing events.
func RouterLogger(l *slog.Logger) RouterOption {
	return func(r *AgentRouter) { r.logger = l }
}

// NewAgentRouter creates a router over the given decision LLM. A fast model
// is recommended; the router overrides model, temperature, and max tokens
// per the package constants.
func NewAgentRouter(llm Provider, opts ...RouterOption) *AgentRouter {
	r := &AgentRouter{llm: llm}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Dispatch selects the agent for userMessage. With a single agent the
// decision is direct (no LLM call, confidence 1.0). With two or more the
// router makes one LLM call offering the synthetic select_agent tool and
// extracts the choice with the precedence tool call → name substring in
// response text → first agent.
func (r *AgentRouter) Dispatch(ctx context.Context, userMessage ChatMessage, agents []AgentDefinition, tracer *Tracer) (RoutingDecision, error) {
	if len(agents) == 0 {
		return RoutingDecision{}, &ErrValidation{Field: "available_agents", Reason: "no agents available for routing"}
	}

	tracer.LogRouterStart(ctx, summarizeRequest(userMessage.Content))

	if len(agents) == 1 {
		decision := RoutingDecision{Agent: agents[0], Confidence: 1.0, Reasoning: "only one agent available"}
		r.logger.Info("single agent, selected directly", "agent", decision.Agent.AgentName)
		tracer.LogRouterDecision(ctx, decision.Agent.AgentName, decision.Confidence)
		return decision, nil
	}

	r.logger.Debug("routing request",
		"agents", len(agents),
		"provider", r.llm.Name())

	decision, err := r.routeLLM(ctx, userMessage, agents)
	if err != nil {
		r.logger.Error("routing failed, falling back to first agent",
			"agent", agents[0].AgentName,
			"error", err)
		tracer.LogStep(ctx, ComponentRouter, "routing_error", map[string]any{
			"error_type":    errorType(err),
			"error_message": err.Error(),
		})
		decision = RoutingDecision{Agent: agents[0], Confidence: 0.0, Reasoning: "router failure fallback"}
	}
	tracer.LogRouterDecision(ctx, decision.Agent.AgentName, decision.Confidence)
	r.logger.Info("agent selected",
		"agent", decision.Agent.AgentName,
		"confidence", decision.Confidence)
	return decision, nil
}

// routeLLM makes the single routing call and extracts the selected agent.
func (r *AgentRouter) routeLLM(ctx context.Context, userMessage ChatMessage, agents []AgentDefinition) (RoutingDecision, error) {
	req := OrchestrationRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: routerSystemPrompt},
			{Role: RoleUser, Content: "Request to analyze: " + userMessage.Content},
		},
		Tools:       []ToolDefinition{selectAgentTool(agents)},
		Model:       routerModel,
		Temperature: routerTemperature,
		MaxTokens:   routerMaxTokens,
	}
	resp, err := r.llm.Orchestrate(ctx, req)
	if err != nil {
		return RoutingDecision{}, fmt.Errorf("routing call: %w", err)
	}
	return extractSelectedAgent(resp, agents, r.logger), nil
}

// selectAgentTool builds the synthetic selection tool whose agent_name
// parameter is an enum over the available agent names.
func selectAgentTool(agents []AgentDefinition) ToolDefinition {
	names := make([]string, len(agents))
	var describe strings.Builder
	for i, agent := range agents {
		names[i] = agent.AgentName
		fmt.Fprintf(&describe, "\n- %s: %s", agent.AgentName, agent.Description)
	}
	return ToolDefinition{
		Name:        selectAgentToolName,
		Description: "Selects the most appropriate agent for the user request. Available agents:" + describe.String(),
		Parameters: []ToolParameter{
			{
				Name:        "agent_name",
				Type:        "string",
				Description: "Name of the agent selected to handle the request",
				Required:    true,
				Enum:        names,
			},
			{
				Name:        "reasoning",
				Type:        "string",
				Description: "Explanation of the agent choice",
				Required:    true,
			},
		},
	}
}

// extractSelectedAgent resolves the routing response to one agent.
// Precedence: a select_agent tool call naming a known agent, then a
// case-insensitive agent-name substring in the response text, then the
// first agent.
func extractSelectedAgent(resp OrchestrationResponse, agents []AgentDefinition, logger *slog.Logger) RoutingDecision {
	for _, call := range resp.ToolCalls {
		if call.Name != selectAgentToolName {
			continue
		}
		name, _ := call.Args["agent_name"].(string)
		reasoning, _ := call.Args["reasoning"].(string)
		for _, agent := range agents {
			if agent.AgentName == name {
				logger.Debug("agent selected via tool call", "agent", name, "reasoning", reasoning)
				return RoutingDecision{Agent: agent, Confidence: 1.0, Reasoning: reasoning}
			}
		}
		logger.Warn("selected agent not found", "agent", name)
	}
	if resp.Content != "" {
		content := strings.ToLower(resp.Content)
		for _, agent := range agents {
			if strings.Contains(content, strings.ToLower(agent.AgentName)) {
				logger.Debug("agent matched in response text", "agent", agent.AgentName)
				return RoutingDecision{Agent: agent, Confidence: 0.5, Reasoning: "agent name matched in response text"}
			}
		}
	}
	logger.Warn("no clear selection, using first agent", "agent", agents[0].AgentName)
	return RoutingDecision{Agent: agents[0], Confidence: 0.0, Reasoning: "no clear selection, defaulting to first agent"}
}

// summarizeRequest clips a request to 100 characters for trace details.
func summarizeRequest(content string) string {
	if utf8.RuneCountInString(content) <= 100 {
		return content
	}
	return truncateStr(content, 100) + "..."
}
