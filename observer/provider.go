package observer

import (
	"context"
	"time"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a Provider with OTEL instrumentation. The model
// attribute is taken from each response, since model resolution happens
// inside the provider.
type ObservedProvider struct {
	inner orchestrator.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs around every call.
func WrapProvider(inner orchestrator.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string     { return o.inner.Name() }
func (o *ObservedProvider) Models() []string { return o.inner.Models() }
func (o *ObservedProvider) Healthy() bool    { return o.inner.Healthy() }

// Chat delegates to the wrapped provider inside an llm.chat span.
func (o *ObservedProvider) Chat(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	o.record(ctx, span, "chat", resp.Model, resp.Usage, time.Since(start), err)
	return resp, err
}

// Orchestrate delegates to the wrapped provider inside an llm.orchestrate
// span carrying the offered tool names.
func (o *ObservedProvider) Orchestrate(ctx context.Context, req orchestrator.OrchestrationRequest) (orchestrator.OrchestrationResponse, error) {
	spanAttrs := []attribute.KeyValue{
		AttrLLMProvider.String(o.inner.Name()),
	}
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs,
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		)
	}

	ctx, span := o.inst.Tracer.Start(ctx, "llm.orchestrate", trace.WithAttributes(spanAttrs...))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Orchestrate(ctx, req)

	o.record(ctx, span, "orchestrate", resp.Model, resp.Usage, time.Since(start), err)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, model string, usage orchestrator.Usage, duration time.Duration, err error) {
	durationMs := float64(duration.Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrLLMModel.String(model),
		AttrTokensInput.Int(usage.PromptTokens),
		AttrTokensOutput.Int(usage.CompletionTokens),
	)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.PromptTokens),
		otellog.Int("llm.tokens.output", usage.CompletionTokens),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ orchestrator.Provider = (*ObservedProvider)(nil)
