package observer

import (
	"context"
	"fmt"
	"time"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WrapTool returns a copy of the tool whose implementation emits a
// tool.execute span, execution metrics, and a log record around every
// call. The definition is unchanged.
func WrapTool(inner orchestrator.Tool, inst *Instruments) orchestrator.Tool {
	name := inner.Definition.Name
	fn := inner.Fn
	inner.Fn = func(ctx context.Context, args map[string]any) (any, error) {
		ctx, span := inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
			AttrToolName.String(name),
		))
		defer span.End()
		start := time.Now()

		result, err := fn(ctx, args)

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		resultLength := 0
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			resultLength = len(fmt.Sprint(result))
		}

		span.SetAttributes(
			AttrToolStatus.String(status),
			AttrToolResultLength.Int(resultLength),
		)

		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			attribute.String("status", status),
		))
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))

		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("tool executed"))
		rec.AddAttributes(
			otellog.String("tool.name", name),
			otellog.String("tool.status", status),
			otellog.Int("tool.result_length", resultLength),
			otellog.Float64("tool.duration_ms", durationMs),
		)
		inst.Logger.Emit(ctx, rec)

		return result, err
	}
	return inner
}
