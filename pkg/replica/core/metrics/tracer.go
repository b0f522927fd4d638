package metrics

import (
	"context"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// Tracer starts spans for ticks, runs and entity pipelines.
// Every Start method returns the derived context and a function ending the span.
type Tracer interface {
	StartTickSpan(ctx context.Context, tickID string) (context.Context, func())
	StartRunSpan(ctx context.Context, run *model.LoadRun) (context.Context, func())
	StartEntitySpan(ctx context.Context, entity string, mode model.LoadType) (context.Context, func())

	// RecordError records an error on the current span.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
