package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/engine/orchestrator"
)

// NewSchedulerFromConfig creates the Scheduler with the configured interval.
func NewSchedulerFromConfig(o *orchestrator.LoadOrchestrator, rc *orchestrator.RunContext, cfg *config.Config, tracer metrics.Tracer) (*Scheduler, error) {
	interval, err := cfg.TickInterval()
	if err != nil {
		return nil, err
	}
	return NewScheduler(o, rc, interval, tracer), nil
}

// startLoop runs the scheduling loop for the lifetime of the app. Stopping
// waits for the tick in flight to finish, bounded by the stop timeout.
func startLoop(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// Module provides the Scheduler.
var Module = fx.Provide(NewSchedulerFromConfig)

// LoopModule starts the scheduling loop on app start.
var LoopModule = fx.Options(
	Module,
	fx.Invoke(startLoop),
)
