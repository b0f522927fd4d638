package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// NoOpMetricRecorder discards all metrics.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder { return &NoOpMetricRecorder{} }

func (r *NoOpMetricRecorder) RecordRunStart(context.Context, *model.LoadRun)                {}
func (r *NoOpMetricRecorder) RecordRunEnd(context.Context, *model.LoadRun, time.Duration)   {}
func (r *NoOpMetricRecorder) RecordEntity(context.Context, string, string, int, time.Duration, error) {
}
func (r *NoOpMetricRecorder) RecordRetry(context.Context, string)       {}
func (r *NoOpMetricRecorder) RecordTickSkipped(context.Context, string) {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer starts no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer { return &NoOpTracer{} }

func (t *NoOpTracer) StartTickSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartRunSpan(ctx context.Context, _ *model.LoadRun) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartEntitySpan(ctx context.Context, _ string, _ model.LoadType) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error)                  {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
