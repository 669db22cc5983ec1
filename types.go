package orchestrator

import "fmt"

// Message roles. The set is closed: NewMessage rejects anything else.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ChatMessage is one turn of a conversation. Content has been through
// ValidateText by the time a message exists, and a message is never
// mutated after it is appended to a history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewMessage validates the role against the closed set and sanitizes the
// content. All messages enter a history through here, including ones the
// service synthesizes itself (tool feedback, summaries).
func NewMessage(role, content string) (ChatMessage, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
	default:
		return ChatMessage{}, &ErrValidation{
			Field:  "role",
			Reason: fmt.Sprintf("role %q not allowed (allowed: user, assistant, system, tool)", role),
		}
	}
	clean, err := ValidateText(content)
	if err != nil {
		return ChatMessage{}, &ErrValidation{Field: "content", Reason: err.Error()}
	}
	return ChatMessage{Role: role, Content: clean}, nil
}

// ToolCall is a model-issued request to run one tool. ID round-trips
// unmodified into the matching ToolResult. Args arrive as decoded JSON
// and are only ever read, never evaluated.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"tool_name"`
	Args map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one tool call. Success selects which of
// Result and Error is meaningful.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToolParameter describes one declared parameter of a tool. Enum, when
// non-empty, restricts string values to the listed set.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolDefinition describes a tool to the LLM. Provider adapters translate
// the parameter descriptors into their wire schema (see FormatTools on
// each provider family).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// JSONSchema renders the parameter descriptors as a JSON Schema object of
// type "object". Every provider family carries this same object; only the
// wrapper around it differs.
func (d ToolDefinition) JSONSchema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ChatRequest is a plain completion request: no tools offered.
// Zero Model/Temperature/MaxTokens mean "use the provider defaults".
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// OrchestrationRequest additionally offers tools the model may call.
type OrchestrationRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Model       string           `json:"model,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ChatResponse is a completed plain chat turn.
type ChatResponse struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// OrchestrationResponse is a completed orchestration turn.
// RequiresToolExecution is true exactly when ToolCalls is non-empty.
type OrchestrationResponse struct {
	Content               string     `json:"content"`
	ToolCalls             []ToolCall `json:"tool_calls,omitempty"`
	Provider              string     `json:"provider"`
	Model                 string     `json:"model"`
	Usage                 Usage      `json:"usage"`
	RequiresToolExecution bool       `json:"requires_tool_execution"`
}

// Usage carries token accounting when the provider reports it. On
// orchestrator error envelopes it instead carries the error marker and
// machine-readable code.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	Error            bool   `json:"error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
}
