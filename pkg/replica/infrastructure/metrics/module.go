package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	metrics "github.com/tigerroll/replica/pkg/replica/core/metrics"
)

// startServer runs the exporter when replica.system.metrics.enabled is set.
func startServer(lc fx.Lifecycle, cfg *config.Config, recorder *PrometheusRecorder) {
	m := cfg.Replica.System.Metrics
	if !m.Enabled {
		return
	}
	srv := NewServer(m.ListenAddress, recorder.GetRegistry())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// Module provides the PrometheusRecorder as the MetricRecorder.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
)

// ServerModule additionally starts the HTTP exporter.
var ServerModule = fx.Options(
	Module,
	fx.Invoke(startServer),
)
