package openaicompat

import (
	"encoding/json"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// ParseResponse converts an OpenAI-format ChatResponse into a domain
// OrchestrationResponse. Content, tool calls, and usage come from
// choices[0]; the model echoed by the API wins over fallbackModel.
// RequiresToolExecution is set exactly when tool calls are present.
func ParseResponse(resp ChatResponse, provider, fallbackModel string) orchestrator.OrchestrationResponse {
	out := orchestrator.OrchestrationResponse{
		Provider: provider,
		Model:    fallbackModel,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		if msg.FunctionCall != nil {
			// Legacy single function_call; the response carries no call ID,
			// so one is synthesized from the provider name.
			out.ToolCalls = []orchestrator.ToolCall{{
				ID:   provider + "_function_call",
				Name: msg.FunctionCall.Name,
				Args: decodeArgs(msg.FunctionCall.Arguments),
			}}
		} else {
			out.ToolCalls = ParseToolCalls(msg.ToolCalls)
		}
		out.RequiresToolExecution = len(out.ToolCalls) > 0
	}

	if resp.Usage != nil {
		out.Usage = orchestrator.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

// ParseToolCalls converts OpenAI tool call requests to domain ToolCalls.
func ParseToolCalls(tcs []ToolCallRequest) []orchestrator.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]orchestrator.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, orchestrator.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: decodeArgs(tc.Function.Arguments),
		})
	}
	return out
}

// decodeArgs parses a function arguments JSON string into a map. The
// string is decoded, never evaluated; anything that is not a JSON object
// becomes an empty map.
func decodeArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		args = map[string]any{}
	}
	return args
}
