package retry

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
)

// NewExecutorFromConfig builds the shared Executor from replica.retry and
// reports every retry to the metric recorder.
func NewExecutorFromConfig(cfg *config.Config, recorder metrics.MetricRecorder) *Executor {
	policy := NewTransientPolicy(cfg.Replica.Retry.MaxAttempts, cfg.RetryInterval())
	return NewExecutor(policy, WithObserver(func(operation string, _ int, _ error) {
		recorder.RecordRetry(context.Background(), operation)
	}))
}

// Module provides the shared retry Executor.
var Module = fx.Provide(NewExecutorFromConfig)
