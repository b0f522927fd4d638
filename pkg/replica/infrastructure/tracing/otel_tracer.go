// Package tracing exports engine spans with OpenTelemetry.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
)

// InstrumentationName names the tracer.
const InstrumentationName = "github.com/tigerroll/replica"

// OpenTelemetryTracer implements metrics.Tracer on an OpenTelemetry tracer.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(InstrumentationName)}
}

func (t *OpenTelemetryTracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// StartTickSpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartTickSpan(ctx context.Context, tickID string) (context.Context, func()) {
	return t.start(ctx, "replica.tick", attribute.String("replica.tick.id", tickID))
}

// StartRunSpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartRunSpan(ctx context.Context, run *model.LoadRun) (context.Context, func()) {
	return t.start(ctx, "replica.run",
		attribute.Int64("replica.run.id", run.ID),
		attribute.String("replica.run.type", run.Type.String()),
		attribute.Int64("replica.ct.first", int64(run.FirstVersion)),
		attribute.Int64("replica.ct.last", int64(run.LastVersion)),
	)
}

// StartEntitySpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartEntitySpan(ctx context.Context, entity string, mode model.LoadType) (context.Context, func()) {
	return t.start(ctx, "replica.entity",
		attribute.String("replica.entity", entity),
		attribute.String("replica.mode", mode.String()),
	)
}

// RecordError implements metrics.Tracer.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("replica.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent implements metrics.Tracer.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
