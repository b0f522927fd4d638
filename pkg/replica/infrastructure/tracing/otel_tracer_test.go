package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/tracing"
)

func TestOpenTelemetryTracer_NestsEntityUnderRun(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := tracing.NewOpenTelemetryTracer(tp)

	ctx, endRun := tr.StartRunSpan(context.Background(), &model.LoadRun{ID: 3, Type: model.TypeDelta})
	ectx, endEntity := tr.StartEntitySpan(ctx, "Orders", model.TypeDelta)
	tr.RecordError(ectx, "pipeline", errors.New("boom"))
	tr.RecordEvent(ectx, "written", map[string]interface{}{"rows": 3})
	endEntity()
	endRun()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	entity, run := spans[0], spans[1]
	assert.Equal(t, "replica.entity", entity.Name())
	assert.Equal(t, run.SpanContext().SpanID(), entity.Parent().SpanID())
	assert.Equal(t, codes.Error, entity.Status().Code)
	assert.Len(t, entity.Events(), 2, "error and custom event")
}
