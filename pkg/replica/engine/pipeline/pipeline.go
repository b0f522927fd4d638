// Package pipeline loads one entity from the source into the replica.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/component/transform"
	"github.com/tigerroll/replica/pkg/replica/core/config"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/engine/source"
	"github.com/tigerroll/replica/pkg/replica/engine/target"
	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

const moduleName = "pipeline"

// Action is what the pipeline did with an entity.
type Action string

const (
	// ActionFull is a truncate followed by a full snapshot load.
	ActionFull Action = "full"
	// ActionDelta is a truncate followed by a change-set load.
	ActionDelta Action = "delta"
	// ActionReference is a delta-mode truncate followed by a full snapshot load.
	ActionReference Action = "reference"
	// ActionTruncate is a delta-mode truncate with nothing loaded.
	ActionTruncate Action = "truncate"
	// ActionSkip leaves the destination untouched.
	ActionSkip Action = "skip"
)

// Request is one entity to load within a run.
type Request struct {
	RunID  int64
	Entity string
	Mode   model.LoadType
	// Marker is the run's starting change-tracking marker.
	Marker          model.ChangeMarker
	Classifications model.Classifications
	// Pending holds the tracked tables with changes at Marker.
	Pending model.TableSet
	// SensitiveFields are decrypted before writing; empty disables the transform.
	SensitiveFields []string
	KeyID           string
}

// Outcome reports what happened to one entity.
type Outcome struct {
	Entity string
	Action Action
	Rows   int
	// Delta is true when the rows came from a change set and there was at least one.
	Delta bool
}

// EntityLoadPipeline decides how an entity is loaded and performs the load.
type EntityLoadPipeline struct {
	conn        Connector
	transformer transform.Transformer
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
}

// NewEntityLoadPipeline creates a pipeline. Nil recorder and tracer discard.
func NewEntityLoadPipeline(conn Connector, transformer transform.Transformer, recorder metrics.MetricRecorder, tracer metrics.Tracer) *EntityLoadPipeline {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &EntityLoadPipeline{conn: conn, transformer: transformer, recorder: recorder, tracer: tracer}
}

// Run loads req.Entity. Errors are returned to the caller unhandled.
func (p *EntityLoadPipeline) Run(ctx context.Context, req Request) (out Outcome, err error) {
	ctx, end := p.tracer.StartEntitySpan(ctx, req.Entity, req.Mode)
	defer end()
	start := time.Now()
	out = Outcome{Entity: req.Entity, Action: ActionSkip}
	defer func() {
		p.recorder.RecordEntity(ctx, req.Entity, string(out.Action), out.Rows, time.Since(start), err)
		if err != nil {
			p.tracer.RecordError(ctx, moduleName, err)
		}
	}()

	log := logger.WithFields(map[string]interface{}{"run": req.RunID, "entity": req.Entity})

	if req.Mode == model.TypeHistoric && !req.Classifications.IsFullLoad(req.Entity) {
		log.Debugf("Not a full-load table; skipping historic load.")
		return out, nil
	}

	tgt, err := p.conn.PinTarget(ctx)
	if err != nil {
		return out, exception.NewBatchError(moduleName, "failed to pin destination connection", err, false)
	}
	defer closeQuietly(tgt, req.Entity)

	exists, err := tgt.TableExists(ctx, req.Entity)
	if err != nil {
		return out, err
	}
	if !exists {
		log.Debugf("Destination table does not exist; skipping.")
		return out, nil
	}

	if err := tgt.Truncate(ctx, req.Entity); err != nil {
		return out, fmt.Errorf("truncate %s: %w", req.Entity, err)
	}

	var (
		fetch func(SourceSession) (*model.RowSet, error)
		force bool
	)
	switch {
	case req.Mode == model.TypeHistoric:
		out.Action = ActionFull
		force = true
		fetch = func(s SourceSession) (*model.RowSet, error) { return s.FetchAll(ctx, req.Entity) }
	case req.Classifications.IsTransactional(req.Entity) && req.Pending.Contains(req.Entity):
		out.Action = ActionDelta
		fetch = func(s SourceSession) (*model.RowSet, error) { return s.FetchChanges(ctx, req.Entity, req.Marker) }
	case req.Classifications.IsReference(req.Entity):
		out.Action = ActionReference
		fetch = func(s SourceSession) (*model.RowSet, error) { return s.FetchAll(ctx, req.Entity) }
	default:
		out.Action = ActionTruncate
		log.Debugf("No pending changes; destination truncated only.")
		return out, nil
	}

	src, err := p.conn.PinSource(ctx)
	if err != nil {
		return out, exception.NewBatchError(moduleName, "failed to pin source connection", err, false)
	}
	defer closeQuietly(src, req.Entity)

	rows, err := fetch(src)
	if err != nil {
		return out, fmt.Errorf("fetch %s: %w", req.Entity, err)
	}
	out.Rows = rows.Len()
	out.Delta = out.Action == ActionDelta && out.Rows > 0

	if out.Rows == 0 && !force {
		log.Debugf("Nothing to write.")
		return out, nil
	}

	if len(req.SensitiveFields) > 0 && out.Rows > 0 {
		if p.transformer == nil {
			return out, exception.NewBatchErrorf(moduleName, "%s has sensitive fields but no transformer is configured", req.Entity)
		}
		rows, err = p.transformer.Transform(ctx, rows, req.KeyID, req.SensitiveFields)
		if err != nil {
			return out, fmt.Errorf("decrypt %s: %w", req.Entity, err)
		}
	}

	if err := write(ctx, tgt, req.Entity, rows); err != nil {
		return out, err
	}
	log.Infof("%s load wrote %d rows.", out.Action, out.Rows)
	return out, nil
}

func write(ctx context.Context, tgt TargetSession, table string, rows *model.RowSet) error {
	columns, err := tgt.Columns(ctx, table)
	if err != nil {
		return err
	}
	mapping, err := target.BuildMapping(rows, columns)
	if err != nil {
		return err
	}
	w, err := tgt.Writer()
	if err != nil {
		return err
	}
	if err := w.Write(ctx, table, mapping, rows); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}

type closer interface{ Close() error }

func closeQuietly(c closer, entity string) {
	if err := c.Close(); err != nil {
		logger.Warnf("Failed to release connection used by %s: %v", entity, err)
	}
}

// NewTransformerFromConfig returns the decryption transform.
func NewTransformerFromConfig(cfg *config.Config) transform.Transformer {
	return transform.NewRSADecryptor(cfg.Replica.Decryption.KeyDir)
}

// Module provides the EntityLoadPipeline over the configured databases.
var Module = fx.Options(
	fx.Provide(NewTransformerFromConfig),
	fx.Provide(func(src *source.Source, tgt *target.Target, r *retry.Executor) Connector {
		return NewDBConnector(src, tgt, r)
	}),
	fx.Provide(NewEntityLoadPipeline),
)
