package orchestrator

import (
	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/engine/pipeline"
	"github.com/tigerroll/replica/pkg/replica/engine/source"
)

// OrchestratorParams collects the orchestrator's dependencies.
type OrchestratorParams struct {
	fx.In
	Store    repository.LoadStatusStore
	Source   *source.Source
	Pipeline *pipeline.EntityLoadPipeline
	Configs  config.Source
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewOrchestratorFromParams wires the orchestrator to the configured databases.
func NewOrchestratorFromParams(p OrchestratorParams) *LoadOrchestrator {
	return NewLoadOrchestrator(p.Store, p.Source, p.Pipeline, p.Configs, p.Recorder, p.Tracer)
}

// Module provides the LoadOrchestrator and the process RunContext.
var Module = fx.Options(
	fx.Provide(NewOrchestratorFromParams),
	fx.Provide(NewRunContext),
)
