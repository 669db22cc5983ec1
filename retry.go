package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// ResilientClient wraps a Provider with bounded exponential-backoff retry.
// Attempt k sleeps DelayBase·2^(k−1) before attempt k+1. Every attempt,
// delay, success, and final failure emits a trace step with component
// ResilientLLMService. Once attempts are spent the caller receives an
// *ExecutionError whose message is classified and safe to show users; the
// original error text appears only in the trace, capped at 200 characters.
type ResilientClient struct {
	provider Provider
	config   RetryConfig
	tracer   *Tracer
	logger   *slog.Logger
}

// ResilientOption configures a ResilientClient.
type ResilientOption func(*ResilientClient)

// ResilientTracer sets the session tracer receiving the retry events.
func ResilientTracer(t *Tracer) ResilientOption {
	return func(c *ResilientClient) { c.tracer = t }
}

// ResilientLogger sets the structured logger. Retries log at WARN, final
// failures at ERROR. If not set, a no-op logger is used.
func ResilientLogger(l *slog.Logger) ResilientOption {
	return func(c *ResilientClient) { c.logger = l }
}

// NewResilientClient wraps p with retry per cfg. A zero cfg falls back to
// DefaultRetryConfig. Compose with any Provider:
//
//	llm := orchestrator.NewResilientClient(p, cfg, orchestrator.ResilientTracer(tr))
func NewResilientClient(p Provider, cfg RetryConfig, opts ...ResilientOption) *ResilientClient {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	c := &ResilientClient{provider: p, config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// Name delegates to the inner provider.
func (c *ResilientClient) Name() string { return c.provider.Name() }

// Models delegates to the inner provider.
func (c *ResilientClient) Models() []string { return c.provider.Models() }

// Healthy delegates to the inner provider.
func (c *ResilientClient) Healthy() bool { return c.provider.Healthy() }

// Chat implements Provider with retry.
func (c *ResilientClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return resilientCall(ctx, c, func(r ChatResponse) int { return len(r.Content) }, func() (ChatResponse, error) {
		return c.provider.Chat(ctx, req)
	})
}

// Orchestrate implements Provider with retry.
func (c *ResilientClient) Orchestrate(ctx context.Context, req OrchestrationRequest) (OrchestrationResponse, error) {
	return resilientCall(ctx, c, func(r OrchestrationResponse) int { return len(r.Content) }, func() (OrchestrationResponse, error) {
		return c.provider.Orchestrate(ctx, req)
	})
}

func (c *ResilientClient) trace(ctx context.Context, event string, details map[string]any) {
	c.tracer.LogStep(ctx, ComponentResilient, event, details)
}

// resilientCall runs fn up to MaxAttempts times, sleeping between failures.
// contentLen measures the successful response for the llm_call_success trace.
func resilientCall[T any](ctx context.Context, c *ResilientClient, contentLen func(T) int, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		c.trace(ctx, "retry_attempt_start", map[string]any{
			"attempt":      attempt,
			"max_attempts": c.config.MaxAttempts,
			"provider":     c.provider.Name(),
		})
		resp, err := fn()
		if err == nil {
			c.trace(ctx, "llm_call_success", map[string]any{
				"attempt":         attempt,
				"provider":        c.provider.Name(),
				"response_length": contentLen(resp),
			})
			c.logger.Debug("llm call succeeded",
				"provider", c.provider.Name(),
				"attempt", attempt)
			return resp, nil
		}
		last = err
		c.logger.Warn("llm attempt failed",
			"provider", c.provider.Name(),
			"attempt", attempt,
			"max_attempts", c.config.MaxAttempts,
			"error", err)
		c.trace(ctx, "retry_attempt_failed", map[string]any{
			"attempt":       attempt,
			"error_type":    errorType(err),
			"error_message": truncateStr(err.Error(), 200),
		})
		if attempt >= c.config.MaxAttempts {
			break
		}
		delay := backoffDelay(c.config.DelayBase, attempt)
		c.trace(ctx, "retry_backoff_delay", map[string]any{
			"delay_seconds":   delay.Seconds(),
			"attempt":         attempt,
			"backoff_formula": fmt.Sprintf("%s * 2^%d", c.config.DelayBase, attempt-1),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	safe := safeErrorMessage(last, c.config.MaxAttempts)
	c.trace(ctx, "max_retries_exceeded", map[string]any{
		"max_attempts":       c.config.MaxAttempts,
		"final_error_type":   errorType(last),
		"safe_error_message": safe,
	})
	c.logger.Error("all llm attempts exhausted",
		"provider", c.provider.Name(),
		"attempts", c.config.MaxAttempts,
		"error", last)
	return zero, &ExecutionError{Message: safe, Attempts: c.config.MaxAttempts, original: last}
}

// backoffDelay returns the sleep after failed attempt k: DelayBase·2^(k−1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base * (1 << (attempt - 1))
}

// errorType names the concrete error type for trace details.
func errorType(err error) string {
	if err == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%T", err)
}

// safeErrorMessage classifies err into a user-visible category. The original
// error text never appears in the result.
func safeErrorMessage(err error, attempts int) string {
	return fmt.Sprintf("%s (after %d attempts)", classifyError(err), attempts)
}

func classifyError(err error) string {
	if err == nil {
		return "LLM service unavailable"
	}
	var (
		httpErr *ErrHTTP
		keyErr  *ErrAPIKey
		valErr  *ErrValidation
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return "LLM service timeout"
	case isConnectionError(err):
		return "Connection error to LLM service"
	case errors.As(err, &httpErr):
		return "Communication error with LLM service"
	case errors.As(err, &keyErr), errors.As(err, &valErr):
		return "Configuration or data error"
	default:
		return "Technical LLM service error"
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// compile-time check
var _ Provider = (*ResilientClient)(nil)
