package openaicompat

import (
	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// BuildBody converts domain ChatMessages and a model name into an
// OpenAI-format ChatRequest. Roles pass through unchanged: system messages
// stay in the messages array as role:"system", and tool feedback stays
// role:"tool" with its rendered text content. Options configure generation
// parameters and tool wiring.
func BuildBody(messages []orchestrator.ChatMessage, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// FormatTools converts domain ToolDefinitions to the OpenAI tool format:
// an array of {type:"function", function:{name, description, parameters}}.
func FormatTools(tools []orchestrator.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}
	return out
}

// FormatLegacyFunctions converts domain ToolDefinitions to the legacy
// functions format: a flat array of {name, description, parameters}
// without the type/function wrapper. Qwen's DashScope endpoint takes this
// shape under the functions field.
func FormatLegacyFunctions(tools []orchestrator.ToolDefinition) []Function {
	out := make([]Function, 0, len(tools))
	for _, t := range tools {
		out = append(out, Function{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.JSONSchema(),
		})
	}
	return out
}
