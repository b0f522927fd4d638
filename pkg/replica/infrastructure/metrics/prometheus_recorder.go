// Package metrics exports the engine's metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	metrics "github.com/tigerroll/replica/pkg/replica/core/metrics"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runsStarted    *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	lastRunID      prometheus.Gauge
	lastVersion    prometheus.Gauge
	entityRuns     *prometheus.CounterVec
	entityRows     *prometheus.CounterVec
	entityDuration *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	ticksSkipped   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_runs_started_total",
			Help: "Runs created, by requested load type.",
		}, []string{"type"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_runs_completed_total",
			Help: "Runs closed, by final status and recorded load type.",
		}, []string{"status", "type"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replica_run_duration_seconds",
			Help:    "Duration of the entity fan-out of a run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		lastRunID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_last_run_id",
			Help: "Id of the most recently closed run.",
		}),
		lastVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_last_ct_version",
			Help: "Ending change-tracking version of the most recently closed run.",
		}),
		entityRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_entity_loads_total",
			Help: "Entity pipeline runs, by entity, action and result.",
		}, []string{"entity", "action", "result"}),
		entityRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_entity_rows_total",
			Help: "Rows fetched by entity pipelines.",
		}, []string{"entity", "action"}),
		entityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replica_entity_duration_seconds",
			Help:    "Duration of entity pipelines.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity", "action"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_retries_total",
			Help: "Transient faults retried, by operation.",
		}, []string{"operation"}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_ticks_skipped_total",
			Help: "Ticks that did not start a run, by reason.",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		r.runsStarted, r.runsCompleted, r.runDuration, r.lastRunID, r.lastVersion,
		r.entityRuns, r.entityRows, r.entityDuration, r.retries, r.ticksSkipped,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.LoadRun) {
	r.runsStarted.WithLabelValues(run.Type.String()).Inc()
}

// RecordRunEnd implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.LoadRun, duration time.Duration) {
	r.runsCompleted.WithLabelValues(run.Status.String(), run.Type.String()).Inc()
	r.runDuration.WithLabelValues(run.Status.String()).Observe(duration.Seconds())
	r.lastRunID.Set(float64(run.ID))
	r.lastVersion.Set(float64(run.LastVersion))
	logger.Debugf("Metrics: run %d ended %s after %.3fs.", run.ID, run.Status, duration.Seconds())
}

// RecordEntity implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordEntity(ctx context.Context, entity string, action string, rows int, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.entityRuns.WithLabelValues(entity, action, result).Inc()
	r.entityRows.WithLabelValues(entity, action).Add(float64(rows))
	r.entityDuration.WithLabelValues(entity, action).Observe(duration.Seconds())
}

// RecordRetry implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

// RecordTickSkipped implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordTickSkipped(ctx context.Context, reason string) {
	r.ticksSkipped.WithLabelValues(reason).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
