// Package gemini implements the Provider interface for the Google Gemini
// generateContent API. System prompts travel as systemInstruction, the
// conversation as contents with user/model roles, tool schemas as a
// single-element functionDeclarations entry, and tool calls come back as
// functionCall parts.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-2.5-flash"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var models = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-image",
	"gemini-pro",
	"gemini-pro-vision",
}

// Provider implements orchestrator.Provider for Google Gemini models.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a Gemini provider. The API key may be empty; the provider
// then reports unhealthy and refuses calls with ErrAPIKey.
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

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// Models returns the supported Gemini model identifiers.
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
	model := p.model(req.Model)
	body := buildBody(req.Messages, nil, req.Temperature, req.MaxTokens)

	parsed, err := p.doGenerate(ctx, model, body)
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
// read from functionCall parts of the first candidate.
func (p *Provider) Orchestrate(ctx context.Context, req orchestrator.OrchestrationRequest) (orchestrator.OrchestrationResponse, error) {
	model := p.model(req.Model)
	body := buildBody(req.Messages, req.Tools, req.Temperature, req.MaxTokens)
	return p.doGenerate(ctx, model, body)
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return DefaultModel
}

// doGenerate performs a generateContent call and parses the response.
func (p *Provider) doGenerate(ctx context.Context, model string, body map[string]any) (orchestrator.OrchestrationResponse, error) {
	if p.apiKey == "" {
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrAPIKey{
			Provider: "gemini",
			Message:  "api key not configured",
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr("read response body: " + err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrHTTP{
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return orchestrator.OrchestrationResponse{}, p.wrapErr("parse response JSON: " + err.Error())
	}
	return parseResponse(parsed, model), nil
}

func (p *Provider) wrapErr(msg string) error {
	return &orchestrator.ErrLLM{Provider: "gemini", Message: msg}
}

// buildBody constructs the generateContent request body. System messages
// accumulate into systemInstruction; assistant turns map to the model
// role; tool feedback becomes a user turn.
func buildBody(messages []orchestrator.ChatMessage, tools []orchestrator.ToolDefinition, temperature float64, maxTokens int) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range messages {
		if m.Role == orchestrator.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role": mapRole(m.Role),
			"parts": []map[string]any{
				{"text": m.Content},
			},
		})
	}

	body := map[string]any{
		"contents": contents,
	}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": strings.Join(systemParts, "\n\n")},
			},
		}
	}

	if len(tools) > 0 {
		body["tools"] = FormatTools(tools)
	}

	genConfig := map[string]any{}
	if temperature > 0 {
		genConfig["temperature"] = temperature
	}
	if maxTokens > 0 {
		genConfig["maxOutputTokens"] = maxTokens
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	return body
}

// FormatTools converts domain ToolDefinitions to the Gemini tool format:
// a single entry carrying every declaration under functionDeclarations.
func FormatTools(tools []orchestrator.ToolDefinition) []map[string]any {
	declarations := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.JSONSchema(),
		})
	}
	return []map[string]any{
		{"functionDeclarations": declarations},
	}
}

// mapRole converts standard roles to Gemini API roles. The API knows only
// user and model; tool feedback is already rendered as text and travels
// as a user turn.
func mapRole(role string) string {
	switch role {
	case orchestrator.RoleAssistant:
		return "model"
	case orchestrator.RoleTool:
		return "user"
	default:
		return role
	}
}

// parseResponse flattens the first candidate's parts: text concatenates
// into Content, functionCall parts become ToolCalls. Gemini assigns no
// call IDs, so the function name stands in.
func parseResponse(resp geminiResponse, model string) orchestrator.OrchestrationResponse {
	out := orchestrator.OrchestrationResponse{
		Provider: "gemini",
		Model:    model,
	}

	var content strings.Builder
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != nil {
				content.WriteString(*part.Text)
			}
			if part.FunctionCall != nil {
				var args map[string]any
				if len(part.FunctionCall.Args) > 0 {
					if err := json.Unmarshal(part.FunctionCall.Args, &args); err != nil {
						args = nil
					}
				}
				if args == nil {
					args = map[string]any{}
				}
				out.ToolCalls = append(out.ToolCalls, orchestrator.ToolCall{
					ID:   part.FunctionCall.Name,
					Name: part.FunctionCall.Name,
					Args: args,
				})
			}
		}
	}
	out.Content = content.String()
	out.RequiresToolExecution = len(out.ToolCalls) > 0

	if resp.UsageMetadata != nil {
		out.Usage = orchestrator.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.PromptTokenCount + resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// Compile-time interface check.
var _ orchestrator.Provider = (*Provider)(nil)
