// Package anthropic implements the Provider interface for the Anthropic
// Messages API. System prompts travel in the top-level system field, tool
// schemas as {name, description, input_schema}, and tool calls come back
// as tool_use content blocks.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "claude-sonnet-4-5"

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	// The Messages API requires max_tokens on every request.
	defaultMaxTokens = 1024

	apiVersion = "2023-06-01"
)

var models = []string{
	"claude-sonnet-4-5",
	"claude-3-5-sonnet-20241022",
	"claude-3-opus-20240229",
	"claude-3-haiku-20240307",
}

// Provider implements orchestrator.Provider for Anthropic Claude models.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an Anthropic provider. The API key may be empty; the
// provider then reports unhealthy and refuses calls with ErrAPIKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Models returns the supported Claude model identifiers.
func (p *Provider) Models() []string {
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// Healthy reports whether a credential is configured. It does not probe
// the network.
func (p *Provider) Healthy() bool { return p.apiKey != "" }

// Chat sends a plain completion request; no tools are offered.
func (p *Provider) Chat(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error) {
	body := buildBody(req.Messages, nil, p.model(req.Model), req.Temperature, req.MaxTokens)

	parsed, err := p.doRequest(ctx, body)
	if err != nil {
		return orchestrator.ChatResponse{}, err
	}
	return orchestrator.ChatResponse{
		Content:  parsed.Content,
		Provider: parsed.Provider,
		Model:    parsed.Model,
		Usage:    parsed.Usage,
	}, nil
}

// Orchestrate sends a request offering the given tools. Tool calls are
// read from tool_use content blocks.
func (p *Provider) Orchestrate(ctx context.Context, req orchestrator.OrchestrationRequest) (orchestrator.OrchestrationResponse, error) {
	body := buildBody(req.Messages, req.Tools, p.model(req.Model), req.Temperature, req.MaxTokens)
	return p.doRequest(ctx, body)
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return DefaultModel
}

// doRequest posts the body to /messages and parses the response.
func (p *Provider) doRequest(ctx context.Context, body messagesRequest) (orchestrator.OrchestrationResponse, error) {
	if p.apiKey == "" {
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrAPIKey{
			Provider: "anthropic",
			Message:  "api key not configured",
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr(fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr(fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrHTTP{
			Status: resp.StatusCode,
			Body:   string(raw),
		}
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr(fmt.Sprintf("decode response: %v", err))
	}
	return parseResponse(parsed, body.Model), nil
}

func (p *Provider) wrapErr(msg string) error {
	return &orchestrator.ErrLLM{Provider: "anthropic", Message: msg}
}

// buildBody constructs the Messages API request. System messages are
// extracted into the top-level system field; tool feedback becomes a user
// turn because the Messages API only accepts user and assistant roles.
func buildBody(messages []orchestrator.ChatMessage, tools []orchestrator.ToolDefinition, model string, temperature float64, maxTokens int) messagesRequest {
	var systemParts []string
	msgs := make([]message, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case orchestrator.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case orchestrator.RoleTool:
			msgs = append(msgs, message{Role: "user", Content: m.Content})
		default:
			msgs = append(msgs, message{Role: m.Role, Content: m.Content})
		}
	}

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := messagesRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if temperature > 0 {
		req.Temperature = &temperature
	}
	if len(systemParts) > 0 {
		req.System = strings.Join(systemParts, "\n\n")
	}
	if len(tools) > 0 {
		req.Tools = FormatTools(tools)
	}
	return req
}

// FormatTools converts domain ToolDefinitions to the Anthropic tool
// format: an array of {name, description, input_schema}.
func FormatTools(tools []orchestrator.ToolDefinition) []toolDef {
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.JSONSchema(),
		})
	}
	return out
}

// parseResponse flattens the content blocks: text blocks concatenate into
// Content, tool_use blocks become ToolCalls.
func parseResponse(resp messagesResponse, fallbackModel string) orchestrator.OrchestrationResponse {
	out := orchestrator.OrchestrationResponse{
		Provider: "anthropic",
		Model:    fallbackModel,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}

	var content strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, orchestrator.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	out.Content = content.String()
	out.RequiresToolExecution = len(out.ToolCalls) > 0

	if resp.Usage != nil {
		out.Usage = orchestrator.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// ---- Wire types ----

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Tools       []toolDef `json:"tools,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   *usage         `json:"usage,omitempty"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Compile-time interface check.
var _ orchestrator.Provider = (*Provider)(nil)
