package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Component names recorded in trace steps.
const (
	ComponentRouter       = "AgentRouter"
	ComponentOrchestrator = "AgentOrchestrator"
	ComponentLLM          = "LLM"
	ComponentToolExecutor = "ToolExecutor"
	ComponentSummarizer   = "HistorySummarizer"
	ComponentResilient    = "ResilientLLMService"
)

// MetricsRecorder receives measurements derived from trace steps. The
// metrics package provides a Prometheus-backed implementation.
type MetricsRecorder interface {
	RecordLLMCall(provider, model string, seconds float64, status string, tokens map[string]int)
	RecordToolExecution(tool string, seconds float64, status string)
	RecordError(errorType, component string)
	RecordRetry(component, operation string)
	RecordSessionCreated(agentName string)
	RecordSessionCompleted(agentName string, seconds float64, messages int)
	SetActiveSessions(n int)
}

// Tracer appends trace steps to one request's session and persists the
// session after every append. Details are masked before the step is
// appended, so sensitive values never reach storage. The Tracer never
// fails: persistence errors are logged and swallowed, because tracing is
// auxiliary to the orchestration flow.
//
// A nil *Tracer is valid and discards all steps.
type Tracer struct {
	session  *Session
	sessions SessionManager
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// TracerMetrics sets the collector that derives metrics from trace steps.
func TracerMetrics(m MetricsRecorder) TracerOption {
	return func(t *Tracer) { t.metrics = m }
}

// TracerLogger sets the structured logger for trace bookkeeping.
func TracerLogger(l *slog.Logger) TracerOption {
	return func(t *Tracer) { t.logger = l }
}

// NewTracer binds a Tracer to one session instance. All components serving
// the same request must share the instance so history mutations and trace
// appends persist together.
func NewTracer(session *Session, sessions SessionManager, opts ...TracerOption) *Tracer {
	t := &Tracer{session: session, sessions: sessions}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = nopLogger
	}
	return t
}

// SessionID returns the traced session's ID, or "" on a nil Tracer.
func (t *Tracer) SessionID() string {
	if t == nil || t.session == nil {
		return ""
	}
	return t.session.ID
}

// AgentName returns the traced session's agent, or "" on a nil Tracer.
func (t *Tracer) AgentName() string {
	if t == nil || t.session == nil {
		return ""
	}
	return t.session.AgentName
}

// Steps returns the number of recorded trace steps, or 0 on a nil Tracer.
func (t *Tracer) Steps() int {
	if t == nil || t.session == nil {
		return 0
	}
	return len(t.session.Trace)
}

// LogStep masks details, appends a TraceStep to the session's trace,
// persists the session, and drives the metrics collector.
func (t *Tracer) LogStep(ctx context.Context, component, event string, details map[string]any) {
	if t == nil || t.session == nil {
		return
	}
	masked := maskDetails(details)
	t.session.Trace = append(t.session.Trace, TraceStep{
		Timestamp: time.Now(),
		Component: component,
		Event:     event,
		Details:   masked,
	})
	if err := t.sessions.Save(ctx, t.session); err != nil {
		t.logger.Error("trace step not persisted",
			"session_id", t.session.ID,
			"component", component,
			"event", event,
			"error", err)
		return
	}
	t.collectMetrics(component, event, masked)
	t.logger.Debug("trace step recorded",
		"session_id", t.session.ID,
		"component", component,
		"event", event)
}

// LogRouterStart records the beginning of agent routing.
func (t *Tracer) LogRouterStart(ctx context.Context, requestSummary string) {
	t.LogStep(ctx, ComponentRouter, "routing_start", map[string]any{
		"request_summary": requestSummary,
	})
}

// LogRouterDecision records the routing outcome.
func (t *Tracer) LogRouterDecision(ctx context.Context, agentName string, confidence float64) {
	t.LogStep(ctx, ComponentRouter, "routing_decision", map[string]any{
		"selected_agent": agentName,
		"confidence":     confidence,
	})
}

// LogOrchestrationStart records the beginning of one ReAct iteration.
func (t *Tracer) LogOrchestrationStart(ctx context.Context, agentName string, iteration int) {
	t.LogStep(ctx, ComponentOrchestrator, "orchestration_start", map[string]any{
		"agent_name": agentName,
		"iteration":  iteration,
	})
}

// LogLLMCall records an outgoing LLM request.
func (t *Tracer) LogLLMCall(ctx context.Context, provider, model string, promptLength int) {
	t.LogStep(ctx, ComponentLLM, "llm_call", map[string]any{
		"provider":      provider,
		"model":         model,
		"prompt_length": promptLength,
	})
}

// LogLLMResponse records a completed LLM turn.
func (t *Tracer) LogLLMResponse(ctx context.Context, provider string, responseLength, toolsCalled int) {
	t.LogStep(ctx, ComponentLLM, "llm_response", map[string]any{
		"provider":        provider,
		"response_length": responseLength,
		"tools_called":    toolsCalled,
	})
}

// LogToolExecution records one tool call's outcome.
func (t *Tracer) LogToolExecution(ctx context.Context, toolName string, success bool, elapsed time.Duration) {
	t.LogStep(ctx, ComponentToolExecutor, "tool_execution", map[string]any{
		"tool_name":         toolName,
		"success":           success,
		"execution_time_ms": float64(elapsed) / float64(time.Millisecond),
	})
}

// LogSummarizationTrigger records that history compression fired.
func (t *Tracer) LogSummarizationTrigger(ctx context.Context, reason string, metrics map[string]any) {
	t.LogStep(ctx, ComponentSummarizer, "summarization_triggered", map[string]any{
		"reason":  reason,
		"metrics": metrics,
	})
}

// LogSummarizationComplete records a successful history compression.
func (t *Tracer) LogSummarizationComplete(ctx context.Context, summaryLength, originalMessages int) {
	t.LogStep(ctx, ComponentSummarizer, "summarization_success", map[string]any{
		"summary_length":    summaryLength,
		"original_messages": originalMessages,
	})
}

// LogError records a failure in any component.
func (t *Tracer) LogError(ctx context.Context, component, errorType, errorMessage string) {
	t.LogStep(ctx, component, "error", map[string]any{
		"error_type":    errorType,
		"error_message": errorMessage,
	})
}

// LogFinalResponse records the orchestration's final answer.
func (t *Tracer) LogFinalResponse(ctx context.Context, responseLength, totalSteps int) {
	t.LogStep(ctx, ComponentOrchestrator, "final_response", map[string]any{
		"response_length":   responseLength,
		"total_trace_steps": totalSteps,
	})
}

// collectMetrics derives metric updates from one trace step. Derivation is
// deterministic: the same step always produces the same updates. When
// precise timing is absent, durations use bounded estimates from prompt or
// response length.
func (t *Tracer) collectMetrics(component, event string, details map[string]any) {
	if t.metrics == nil {
		return
	}
	switch {
	case event == "llm_call":
		t.metrics.RecordLLMCall(
			detailString(details, "provider"),
			detailString(details, "model"),
			detailNumber(details, "prompt_length")/1000.0,
			"initiated", nil)
	case event == "llm_call_success":
		t.metrics.RecordLLMCall(
			detailString(details, "provider"),
			detailString(details, "model"),
			max(0.5, detailNumber(details, "response_length")/500.0),
			"success", nil)
	case event == "retry_attempt_start" && component == ComponentResilient:
		t.metrics.RecordRetry(component, "llm_call")
	case event == "retry_attempt_failed", event == "max_retries_exceeded":
		t.metrics.RecordError(errorTypeDetail(details, event), component)
	case event == "tool_execution":
		status := "error"
		if ok, _ := details["success"].(bool); ok {
			status = "success"
		}
		seconds := detailNumber(details, "execution_time_ms") / 1000.0
		if seconds <= 0 {
			seconds = 0.1
		}
		t.metrics.RecordToolExecution(detailString(details, "tool_name"), seconds, status)
	case strings.Contains(event, "error"):
		t.metrics.RecordError(errorTypeDetail(details, event), component)
	}
}

func detailString(details map[string]any, key string) string {
	if s, ok := details[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func detailNumber(details map[string]any, key string) float64 {
	switch v := details[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// errorTypeDetail picks the most specific error label a step carries.
func errorTypeDetail(details map[string]any, event string) string {
	if s, ok := details["error_type"].(string); ok && s != "" {
		return s
	}
	if s, ok := details["final_error_type"].(string); ok && s != "" {
		return s
	}
	return event
}

// sensitiveKeyFragments mark detail keys whose values are always masked.
var sensitiveKeyFragments = []string{"api_key", "password", "token", "secret", "credential"}

const maskedValue = "***MASKED***"

// maskDetails returns a masked copy of details: values under sensitive keys
// are replaced with ***MASKED*** and string values longer than 100
// characters are truncated with an ellipsis. The input map is not modified.
func maskDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	masked := make(map[string]any, len(details))
	for k, v := range details {
		switch {
		case isSensitiveKey(k):
			masked[k] = maskedValue
		default:
			if s, ok := v.(string); ok && utf8.RuneCountInString(s) > 100 {
				masked[k] = truncateStr(s, 100) + "..."
				continue
			}
			masked[k] = v
		}
	}
	return masked
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}
