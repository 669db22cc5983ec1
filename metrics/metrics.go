// Package metrics exposes the orchestration service's Prometheus series.
//
// A Collector owns a dedicated registry, so tests can build fresh isolated
// collectors while the process shares one through Default. The Tracer drives
// the collector deterministically from trace steps; the HTTP layer records
// session lifecycle events directly.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// Application identity reported by the application_info series.
const (
	Version   = "1.0.0"
	Component = "orchestrator_agent"
)

var _ orchestrator.MetricsRecorder = (*Collector)(nil)

// Collector records orchestration measurements on its own Prometheus
// registry. It implements the root package's MetricsRecorder.
type Collector struct {
	registry *prometheus.Registry

	llmCalls        *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
	llmTokens       *prometheus.CounterVec
	errors          *prometheus.CounterVec
	retries         *prometheus.CounterVec
	toolExecutions  *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	sessionsCreated *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	sessionMessages *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

// NewCollector builds a Collector with every series registered on a fresh
// registry. application_info is set to 1 immediately so the exposition
// always carries the build identity.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_call_count",
				Help: "Total LLM calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		llmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "LLM call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_consumed",
				Help: "Total tokens consumed by provider, model, and token type",
			},
			[]string{"provider", "model", "token_type"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_errors_count",
				Help: "Total errors by error type and component",
			},
			[]string{"error_type", "component"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_attempts_count",
				Help: "Total retry attempts by component and operation",
			},
			[]string{"component", "operation"},
		),

		toolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_execution_count",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		toolLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_latency_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool_name"},
		),

		sessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_count",
				Help: "Total sessions created by agent",
			},
			[]string{"agent_name"},
		),

		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_duration_seconds",
				Help:    "Session lifetime in seconds",
				Buckets: []float64{1, 10, 60, 300, 600, 1800, 3600},
			},
			[]string{"agent_name"},
		),

		sessionMessages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_messages_count",
				Help:    "History size at session completion",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200},
			},
			[]string{"agent_name"},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions_current",
				Help: "Sessions currently in ACTIVE or PROCESSING state",
			},
		),
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "application_info",
		Help: "Build identity; always 1",
		ConstLabels: prometheus.Labels{
			"version":   Version,
			"component": Component,
		},
	})
	info.Set(1)

	c.registry.MustRegister(
		c.llmCalls, c.llmLatency, c.llmTokens,
		c.errors, c.retries,
		c.toolExecutions, c.toolLatency,
		c.sessionsCreated, c.sessionDuration, c.sessionMessages,
		c.activeSessions, info,
	)
	return c
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process-wide collector, building it on first use.
func Default() *Collector {
	defaultOnce.Do(func() { defaultCollector = NewCollector() })
	return defaultCollector
}

// Handler returns the Prometheus exposition handler for this collector's
// registry, mounted by the HTTP layer at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for exposition tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordLLMCall counts one LLM call and, when a positive duration (or
// estimate) is known, observes latency. Token counts are optional.
func (c *Collector) RecordLLMCall(provider, model string, seconds float64, status string, tokens map[string]int) {
	c.llmCalls.WithLabelValues(provider, model, status).Inc()
	if seconds > 0 {
		c.llmLatency.WithLabelValues(provider, model).Observe(seconds)
	}
	for tokenType, n := range tokens {
		if n > 0 {
			c.llmTokens.WithLabelValues(provider, model, tokenType).Add(float64(n))
		}
	}
}

// RecordToolExecution counts one tool call and observes its latency.
func (c *Collector) RecordToolExecution(tool string, seconds float64, status string) {
	c.toolExecutions.WithLabelValues(tool, status).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(seconds)
}

// RecordError counts one failure.
func (c *Collector) RecordError(errorType, component string) {
	c.errors.WithLabelValues(errorType, component).Inc()
}

// RecordRetry counts one retry attempt.
func (c *Collector) RecordRetry(component, operation string) {
	c.retries.WithLabelValues(component, operation).Inc()
}

// RecordSessionCreated counts a new session.
func (c *Collector) RecordSessionCreated(agentName string) {
	c.sessionsCreated.WithLabelValues(agentName).Inc()
}

// RecordSessionCompleted observes a finished session's lifetime and final
// history size.
func (c *Collector) RecordSessionCompleted(agentName string, seconds float64, messages int) {
	c.sessionDuration.WithLabelValues(agentName).Observe(seconds)
	c.sessionMessages.WithLabelValues(agentName).Observe(float64(messages))
}

// SetActiveSessions reports the current number of live sessions.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}
