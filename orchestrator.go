package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Loop bounds for one orchestrated request. The per-batch cap truncates a
// single LLM turn's tool calls; the total cap ends the request once the
// model has issued too many across all iterations.
const (
	maxIterations        = 3
	maxToolCallsPerBatch = 5
	maxTotalToolCalls    = 10
	toolBatchTimeout     = 30 * time.Second
)

// Error codes carried in Usage.ErrorCode on orchestrator error envelopes.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeLLMNullResponse       = "LLM_NULL_RESPONSE"
	ErrCodeTooManyToolCalls      = "TOO_MANY_TOOL_CALLS"
	ErrCodeToolExecutionCritical = "TOOL_EXECUTION_CRITICAL_FAILURE"
	ErrCodeIterationCritical     = "ITERATION_CRITICAL_ERROR"
	ErrCodeMaxIterations         = "MAX_ITERATIONS_EXCEEDED"
)

// Orchestrator drives the reason-act loop: call the LLM, execute the tool
// calls it requests, feed the results back, repeat until the model answers
// in plain text or a bound trips. Every failure mode ends in an error
// envelope response; Run never returns an error and never panics out.
type Orchestrator struct {
	providers ProviderResolver
	executor  *ToolExecutor
	logger    *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// OrchestratorLogger sets the structured logger for loop progress and
// failures. If not set, a no-op logger is used.
func OrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator builds an orchestrator over a provider resolver and a
// tool executor. Both are shared across requests; per-request state lives
// entirely in Run.
func NewOrchestrator(providers ProviderResolver, executor *ToolExecutor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{providers: providers, executor: executor}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	return o
}

// Run executes the reason-act loop for one request and returns the final
// response plus the working history, which extends the input history with
// the tool feedback messages appended along the way. The caller owns
// appending the final assistant message.
//
// Run never returns an error: every failure becomes an
// OrchestrationResponse whose Content is an error envelope
// "[ORCHESTRATION_ERROR – CODE] message" and whose Usage carries
// {Error: true, ErrorCode: CODE}.
func (o *Orchestrator) Run(ctx context.Context, config AgentConfig, history []ChatMessage, tracer *Tracer) (resp OrchestrationResponse, finalHistory []ChatMessage) {
	current := make([]ChatMessage, len(history), len(history)+2*maxIterations)
	copy(current, history)

	iteration := 0
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panic", "iteration", iteration, "panic", r)
			resp = o.errorResponse(ctx, config, tracer, ErrCodeIterationCritical,
				fmt.Sprintf("Critical error in iteration %d: %v", iteration, r))
			finalHistory = current
		}
	}()

	if err := config.Validate(); err != nil {
		return o.errorResponse(ctx, config, tracer, ErrCodeValidation, "Validation error: "+err.Error()), current
	}
	base, err := o.providers.Resolve(config.Provider)
	if err != nil {
		return o.errorResponse(ctx, config, tracer, ErrCodeValidation, "Validation error: "+err.Error()), current
	}
	llm := NewResilientClient(base, config.Retry, ResilientTracer(tracer), ResilientLogger(o.logger))

	var tools []ToolDefinition
	if config.ToolsEnabled && len(config.AvailableTools) > 0 {
		tools = o.executor.Definitions(config.AvailableTools...)
	}
	o.logger.Info("orchestration started",
		"provider", llm.Name(),
		"model", config.ModelVersion,
		"history_messages", len(current),
		"tools", len(tools))

	totalToolCalls := 0
	for iteration < maxIterations {
		iteration++
		tracer.LogOrchestrationStart(ctx, tracer.AgentName(), iteration)
		o.logger.Info("iteration", "n", iteration, "max", maxIterations)

		req := OrchestrationRequest{
			Messages:    composeMessages(config.SystemPrompt, current),
			Tools:       tools,
			Model:       config.ModelVersion,
			Temperature: config.Temperature,
			MaxTokens:   config.MaxTokens,
		}
		tracer.LogLLMCall(ctx, llm.Name(), config.ModelVersion, promptLength(req.Messages))
		llmResp, err := llm.Orchestrate(ctx, req)
		if err != nil {
			message := "LLM error: no response received from the provider"
			var execErr *ExecutionError
			if errors.As(err, &execErr) {
				message = "LLM error: " + execErr.Message
			}
			return o.errorResponse(ctx, config, tracer, ErrCodeLLMNullResponse, message), current
		}
		tracer.LogLLMResponse(ctx, llmResp.Provider, len(llmResp.Content), len(llmResp.ToolCalls))

		if !llmResp.RequiresToolExecution || len(llmResp.ToolCalls) == 0 {
			o.logger.Info("final response",
				"iteration", iteration,
				"response_length", len(llmResp.Content))
			tracer.LogFinalResponse(ctx, len(llmResp.Content), tracer.Steps()+1)
			return llmResp, current
		}

		// The total cap counts what the model asked for, before truncation.
		totalToolCalls += len(llmResp.ToolCalls)
		if totalToolCalls > maxTotalToolCalls {
			o.logger.Warn("tool budget exhausted", "requested_total", totalToolCalls, "cap", maxTotalToolCalls)
			return o.errorResponse(ctx, config, tracer, ErrCodeTooManyToolCalls,
				fmt.Sprintf("Tool execution limit reached (%d)", maxTotalToolCalls)), current
		}

		calls := llmResp.ToolCalls
		if len(calls) > maxToolCallsPerBatch {
			o.logger.Warn("tool batch truncated", "requested", len(calls), "executed", maxToolCallsPerBatch)
			tracer.LogStep(ctx, ComponentOrchestrator, "tool_batch_truncated", map[string]any{
				"requested": len(calls),
				"executed":  maxToolCallsPerBatch,
			})
			calls = calls[:maxToolCallsPerBatch]
		}

		batchCtx, cancel := context.WithTimeout(ctx, toolBatchTimeout)
		outcomes := o.executor.executeAll(batchCtx, calls)
		batchErr := batchCtx.Err()
		cancel()
		if batchErr != nil {
			o.logger.Error("tool batch aborted", "iteration", iteration, "cause", batchErr)
			return o.errorResponse(ctx, config, tracer, ErrCodeToolExecutionCritical,
				"Critical error during tool execution"), current
		}
		for i, outcome := range outcomes {
			tracer.LogToolExecution(ctx, calls[i].Name, outcome.result.Success, outcome.duration)
		}

		updated, err := appendToolFeedback(current, calls, outcomes)
		if err != nil {
			return o.errorResponse(ctx, config, tracer, ErrCodeIterationCritical,
				fmt.Sprintf("Critical error in iteration %d: %v", iteration, err)), current
		}
		current = updated
	}

	return o.errorResponse(ctx, config, tracer, ErrCodeMaxIterations,
		fmt.Sprintf("Iteration limit reached (%d). The agent could not converge to a final response; this may indicate a reasoning loop.", maxIterations)), current
}

// errorResponse builds the error envelope, traces it, and logs it. The
// envelope is a normal OrchestrationResponse so callers have a single
// result shape regardless of outcome.
func (o *Orchestrator) errorResponse(ctx context.Context, config AgentConfig, tracer *Tracer, code, message string) OrchestrationResponse {
	tracer.LogError(ctx, ComponentOrchestrator, code, message)
	o.logger.Error("orchestration failed", "error_code", code, "error", message)
	provider := config.Provider
	if provider == "" {
		provider = "unknown"
	}
	model := config.ModelVersion
	if model == "" {
		model = "unknown"
	}
	return OrchestrationResponse{
		Content:  fmt.Sprintf("[ORCHESTRATION_ERROR – %s] %s", code, message),
		Provider: provider,
		Model:    model,
		Usage:    Usage{Error: true, ErrorCode: code},
	}
}

// composeMessages prepends the agent's system prompt to the outbound
// request unless the history already opens with a system message. The
// stored history itself never contains the agent prompt.
func composeMessages(systemPrompt string, history []ChatMessage) []ChatMessage {
	if systemPrompt == "" || (len(history) > 0 && history[0].Role == RoleSystem) {
		return history
	}
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	return append(out, history...)
}

// appendToolFeedback extends the history with one assistant message
// describing the batch and one tool-role message per result. On failure the
// input history is returned unchanged.
func appendToolFeedback(history []ChatMessage, calls []ToolCall, outcomes []toolOutcome) ([]ChatMessage, error) {
	desc, err := NewMessage(RoleAssistant, describeToolCalls(calls))
	if err != nil {
		return history, fmt.Errorf("tool call description: %w", err)
	}
	out := append(history, desc)
	for _, outcome := range outcomes {
		var msg ChatMessage
		if outcome.result.Success {
			msg, err = NewMessage(RoleTool, fmt.Sprintf("Tool result: %v", outcome.result.Result))
		} else {
			msg, err = NewMessage(RoleTool, "Tool error: "+outcome.result.Error)
		}
		if err != nil {
			return history, fmt.Errorf("tool feedback: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// describeToolCalls renders a batch as
// "Tool call: name(k1=v1, k2=v2), other()". Argument order is sorted by
// key so the rendering is deterministic.
func describeToolCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return "No tools called"
	}
	parts := make([]string, len(calls))
	for i, call := range calls {
		keys := make([]string, 0, len(call.Args))
		for k := range call.Args {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		args := make([]string, len(keys))
		for j, k := range keys {
			args[j] = fmt.Sprintf("%s=%v", k, call.Args[k])
		}
		parts[i] = fmt.Sprintf("%s(%s)", call.Name, strings.Join(args, ", "))
	}
	return "Tool call: " + strings.Join(parts, ", ")
}

// promptLength measures an outbound message list in code points, for the
// llm_call trace detail.
func promptLength(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += utf8.RuneCountInString(m.Content)
	}
	return total
}

// nopLogger is a logger that discards all output. Used when no logger
// option is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
