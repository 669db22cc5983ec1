package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// Provider implements orchestrator.Provider for one OpenAI-compatible
// vendor. It uses the shared helpers in this package (BuildBody,
// FormatTools, ParseResponse) for body building and response parsing.
type Provider struct {
	name            string
	apiKey          string
	baseURL         string
	defaultModel    string
	models          []string
	legacyFunctions bool
	client          *http.Client
}

// New creates a provider for the given vendor. The API key may be empty;
// the provider then reports unhealthy and refuses calls with ErrAPIKey.
func New(vendor Vendor, apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		name:            vendor.Name,
		apiKey:          apiKey,
		baseURL:         vendor.BaseURL,
		defaultModel:    vendor.DefaultModel,
		models:          vendor.Models,
		legacyFunctions: vendor.LegacyFunctions,
		client:          &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the vendor name (e.g. "openai", "deepseek").
func (p *Provider) Name() string { return p.name }

// Models returns the vendor's model catalog.
func (p *Provider) Models() []string {
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// Healthy reports whether a credential is configured. It does not probe
// the network.
func (p *Provider) Healthy() bool { return p.apiKey != "" }

// Chat sends a plain completion request; no tools are offered.
func (p *Provider) Chat(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error) {
	model := p.model(req.Model)
	body := BuildBody(req.Messages, model, genOptions(req.Temperature, req.MaxTokens)...)

	parsed, err := p.doRequest(ctx, body, model)
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

// Orchestrate sends a request offering the given tools. Tool schemas are
// emitted in the vendor's shape: the tools array with tool_choice "auto",
// or for legacy-functions vendors the flat functions array.
func (p *Provider) Orchestrate(ctx context.Context, req orchestrator.OrchestrationRequest) (orchestrator.OrchestrationResponse, error) {
	model := p.model(req.Model)
	body := BuildBody(req.Messages, model, genOptions(req.Temperature, req.MaxTokens)...)

	if len(req.Tools) > 0 {
		if p.legacyFunctions {
			body.Functions = FormatLegacyFunctions(req.Tools)
		} else {
			body.Tools = FormatTools(req.Tools)
			body.ToolChoice = "auto"
		}
	}
	return p.doRequest(ctx, body, model)
}

// model resolves the request model against the vendor default.
func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// genOptions translates domain generation parameters into request options.
// Zero values mean "use the provider default" and are omitted.
func genOptions(temperature float64, maxTokens int) []Option {
	var opts []Option
	if temperature > 0 {
		opts = append(opts, WithTemperature(temperature))
	}
	if maxTokens > 0 {
		opts = append(opts, WithMaxTokens(maxTokens))
	}
	return opts
}

// doRequest sends the request and parses the response.
func (p *Provider) doRequest(ctx context.Context, body ChatRequest, model string) (orchestrator.OrchestrationResponse, error) {
	if p.apiKey == "" {
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrAPIKey{
			Provider: p.name,
			Message:  "api key not configured",
		}
	}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return orchestrator.OrchestrationResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return orchestrator.OrchestrationResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return orchestrator.OrchestrationResponse{}, &orchestrator.ErrLLM{
			Provider: p.name,
			Message:  fmt.Sprintf("decode response: %v", err),
		}
	}
	return ParseResponse(chatResp, p.name, model), nil
}

// sendHTTP marshals the request body and posts it to the chat completions
// endpoint with Bearer authentication.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &orchestrator.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &orchestrator.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for the retry
// classifier.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &orchestrator.ErrHTTP{
		Status: resp.StatusCode,
		Body:   string(body),
	}
}

// Compile-time interface check.
var _ orchestrator.Provider = (*Provider)(nil)
