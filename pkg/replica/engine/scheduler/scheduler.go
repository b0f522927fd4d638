// Package scheduler drives the orchestrator on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/engine/orchestrator"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// Ticker runs one tick.
type Ticker interface {
	Tick(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.TickResult, error)
}

// Scheduler runs ticks strictly one after another.
type Scheduler struct {
	ticker   Ticker
	rc       *orchestrator.RunContext
	interval time.Duration
	tracer   metrics.Tracer
}

// NewScheduler creates a Scheduler.
func NewScheduler(ticker Ticker, rc *orchestrator.RunContext, interval time.Duration, tracer metrics.Tracer) *Scheduler {
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Scheduler{ticker: ticker, rc: rc, interval: interval, tracer: tracer}
}

// RunOnce executes a single tick. Cancelling ctx does not interrupt it.
// A panic inside the tick is returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (res orchestrator.TickResult, err error) {
	tickID := uuid.NewString()
	ctx, end := s.tracer.StartTickSpan(context.WithoutCancel(ctx), tickID)
	defer end()

	log := logger.WithFields(map[string]interface{}{"tick": tickID})
	defer func() {
		if r := recover(); r != nil {
			res, err = orchestrator.TickResult{}, fmt.Errorf("tick panicked: %v", r)
			s.tracer.RecordError(ctx, "scheduler", err)
			log.Errorf("Tick abandoned: %v", err)
		}
	}()

	log.Debugf("Tick started.")
	res, err = s.ticker.Tick(ctx, s.rc)
	switch {
	case err != nil:
		s.tracer.RecordError(ctx, "scheduler", err)
		log.Errorf("Tick abandoned: %v", err)
	case res.Skipped:
		log.Infof("Tick skipped: %s.", res.Reason)
	default:
		log.Debugf("Tick finished with run %d.", res.Run.ID)
	}
	return res, err
}

// Run ticks immediately and then waits a full interval after each tick
// finishes, until ctx is cancelled. Cancellation is observed only between ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("Scheduler started; interval %s.", s.interval)
	wait := time.NewTimer(s.interval)
	defer wait.Stop()
	for {
		_, _ = s.RunOnce(ctx)
		if ctx.Err() != nil {
			logger.Infof("Scheduler stopped.")
			return nil
		}
		wait.Reset(s.interval)
		select {
		case <-ctx.Done():
			logger.Infof("Scheduler stopped.")
			return nil
		case <-wait.C:
		}
	}
}
