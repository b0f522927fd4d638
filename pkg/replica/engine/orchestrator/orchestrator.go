// Package orchestrator runs load ticks: it picks the mode from the run
// history, fans the entity pipelines out and records the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/engine/pipeline"
	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

const moduleName = "orchestrator"

// EntityLister lists the source tables.
type EntityLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

// PendingChanges lists the tracked tables with changes at a marker.
type PendingChanges interface {
	ListEntitiesWithPendingChanges(ctx context.Context, floor model.ChangeMarker) (model.TableSet, error)
}

// SourceCatalog is what the orchestrator reads from the source pool.
type SourceCatalog interface {
	EntityLister
	PendingChanges
}

// EntityRunner loads one entity.
type EntityRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

// Skip reasons reported in TickResult.Reason.
const (
	ReasonRunReady    = "last run is ready and not yet acknowledged"
	ReasonRunInFlight = "a run is preparing"
	ReasonRunFailed   = "last run failed; waiting for backtrack"
)

// TickResult describes one tick.
type TickResult struct {
	// Run is the run created by the tick; nil when the tick was skipped.
	Run      *model.LoadRun
	Skipped  bool
	Reason   string
	Outcomes []pipeline.Outcome
	// Err aggregates the entity failures of the run.
	Err error
}

// LoadOrchestrator is the load state machine.
type LoadOrchestrator struct {
	store    repository.LoadStatusStore
	source   SourceCatalog
	runner   EntityRunner
	configs  config.Source
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewLoadOrchestrator creates a LoadOrchestrator. configs may be nil, in
// which case the RunContext is never refreshed.
func NewLoadOrchestrator(
	store repository.LoadStatusStore,
	source SourceCatalog,
	runner EntityRunner,
	configs config.Source,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *LoadOrchestrator {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &LoadOrchestrator{store: store, source: source, runner: runner, configs: configs, recorder: recorder, tracer: tracer}
}

// ModeFor returns the mode to run after a run in status last (nil for none),
// or false when no run may start.
func ModeFor(last *model.LoadRun) (model.LoadType, string, bool) {
	if last == nil {
		return model.TypeHistoric, "", true
	}
	switch last.Status {
	case model.StatusSuccessful, model.StatusBackTrack:
		return model.TypeDelta, "", true
	case model.StatusInitialize:
		return model.TypeHistoric, "", true
	case model.StatusReady:
		return 0, ReasonRunReady, false
	case model.StatusPreparing:
		return 0, ReasonRunInFlight, false
	}
	return 0, ReasonRunFailed, false
}

// Prepare re-reads the configuration into rc.
func (o *LoadOrchestrator) Prepare(rc *RunContext) error {
	if o.configs == nil {
		return nil
	}
	cfg, err := o.configs.Load()
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to reload configuration", err, false)
	}
	if err := rc.Refresh(cfg); err != nil {
		return exception.NewBatchError(moduleName, "reloaded configuration is invalid", err, false)
	}
	return nil
}

// Tick runs one orchestration step. The returned error is a setup failure
// that happened before a run was created, or a failure to close the run;
// entity failures are reported in TickResult.Err and in the run's status.
func (o *LoadOrchestrator) Tick(ctx context.Context, rc *RunContext) (TickResult, error) {
	if err := o.Prepare(rc); err != nil {
		return TickResult{}, err
	}

	last, err := o.store.GetLastRun(ctx)
	if err != nil {
		return TickResult{}, exception.NewBatchError(moduleName, "failed to read the last run", err, false)
	}
	mode, reason, ok := ModeFor(last)
	if !ok {
		logger.Infof("Run %d is %s; nothing to do this tick.", last.ID, last.Status)
		o.recorder.RecordTickSkipped(ctx, reason)
		return TickResult{Skipped: true, Reason: reason}, nil
	}

	run, err := o.store.CreateRun(ctx)
	if errors.Is(err, repository.ErrRunInProgress) {
		o.recorder.RecordTickSkipped(ctx, ReasonRunInFlight)
		return TickResult{Skipped: true, Reason: ReasonRunInFlight}, nil
	}
	if err != nil {
		return TickResult{}, exception.NewBatchError(moduleName, "failed to create a run", err, false)
	}
	if !run.FirstVersion.HasBaseline() {
		mode = model.TypeHistoric
	}

	ctx, endSpan := o.tracer.StartRunSpan(ctx, run)
	defer endSpan()
	o.recorder.RecordRunStart(ctx, run)
	logger.Infof("Run %d started in %s mode over %s (CT %d..%d).",
		run.ID, mode, run.Window(rc.DateTimeFormat()), run.FirstVersion, run.LastVersion)

	start := time.Now()
	result := TickResult{Run: run}
	outcomes, anyDelta, runErr := o.execute(ctx, rc, run, mode)
	result.Outcomes = outcomes
	result.Err = runErr

	status, loadType := model.StatusReady, model.TypeHistoric
	if runErr != nil {
		status = model.StatusFailed
		o.tracer.RecordError(ctx, moduleName, runErr)
		logger.Errorf("Run %d failed: %v", run.ID, runErr)
	}
	if anyDelta {
		loadType = model.TypeDelta
	}
	if err := o.store.CompleteRun(ctx, run.ID, status, loadType); err != nil {
		return result, exception.NewBatchErrorf(moduleName, "failed to complete run %d as %s", run.ID, status, err)
	}
	run.Status, run.Type = status, loadType
	o.recorder.RecordRunEnd(ctx, run, time.Since(start))
	logger.Infof("Run %d completed: %s (%s), %d entities in %s.", run.ID, status, loadType, len(outcomes), time.Since(start).Round(time.Millisecond))
	return result, nil
}

// execute fans the entity pipelines out and waits for all of them.
func (o *LoadOrchestrator) execute(ctx context.Context, rc *RunContext, run *model.LoadRun, mode model.LoadType) ([]pipeline.Outcome, bool, error) {
	entities, err := rc.Entities(ctx, o.source)
	if err != nil {
		return nil, false, exception.NewBatchError(moduleName, "failed to list source tables", err, false)
	}

	var pending model.TableSet
	if mode == model.TypeDelta {
		pending, err = o.source.ListEntitiesWithPendingChanges(ctx, run.FirstVersion)
		if err != nil {
			return nil, false, exception.NewBatchError(moduleName, "failed to list tables with pending changes", err, false)
		}
		logger.Debugf("Run %d: %d tracked tables have pending changes.", run.ID, len(pending))
	}

	classes := rc.Classifications()
	var (
		g        errgroup.Group
		mu       sync.Mutex
		errs     *multierror.Error
		outcomes = make([]pipeline.Outcome, 0, len(entities))
		anyDelta atomic.Bool
	)
	g.SetLimit(rc.Parallelism())

	for _, entity := range entities {
		req := pipeline.Request{
			RunID:           run.ID,
			Entity:          entity,
			Mode:            mode,
			Marker:          run.FirstVersion,
			Classifications: classes,
			Pending:         pending,
			SensitiveFields: rc.SensitiveFields(entity),
			KeyID:           rc.KeyID(),
		}
		g.Go(func() error {
			out, err := o.runSafely(ctx, req)
			if out.Delta {
				anyDelta.Store(true)
			}
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, out)
			if err != nil {
				logger.Errorf("Run %d: entity %s failed: %v", run.ID, entity, err)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", entity, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, anyDelta.Load(), errs.ErrorOrNil()
}

func (o *LoadOrchestrator) runSafely(ctx context.Context, req pipeline.Request) (out pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = pipeline.Outcome{Entity: req.Entity, Action: pipeline.ActionSkip}
			err = exception.NewBatchErrorf(moduleName, "pipeline for %s panicked: %v", req.Entity, r)
		}
	}()
	return o.runner.Run(ctx, req)
}
