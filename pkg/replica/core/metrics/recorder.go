// Package metrics defines the observability ports of the replication engine.
// Implementations live in infrastructure/metrics and infrastructure/tracing.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// MetricRecorder records run, entity and retry metrics.
type MetricRecorder interface {
	// RecordRunStart records that a run was created.
	RecordRunStart(ctx context.Context, run *model.LoadRun)
	// RecordRunEnd records a closed run and how long its fan-out took.
	RecordRunEnd(ctx context.Context, run *model.LoadRun, duration time.Duration)
	// RecordEntity records one entity pipeline outcome.
	// action is the pipeline decision ("full", "delta", "skip"); err is nil on success.
	RecordEntity(ctx context.Context, entity string, action string, rows int, duration time.Duration, err error)
	// RecordRetry records a transient fault that is about to be retried.
	RecordRetry(ctx context.Context, operation string)
	// RecordTickSkipped records a tick that did not start a run, with the reason.
	RecordTickSkipped(ctx context.Context, reason string)
}
