package main

import (
	"time"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	"github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/mysql"
	"github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/postgres"
	"github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/sqlite"
	"github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/sqlserver"
	config "github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/engine/orchestrator"
	"github.com/tigerroll/replica/pkg/replica/engine/pipeline"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/engine/scheduler"
	"github.com/tigerroll/replica/pkg/replica/engine/source"
	"github.com/tigerroll/replica/pkg/replica/engine/target"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/metrics"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/migration"
	sqlrepo "github.com/tigerroll/replica/pkg/replica/infrastructure/repository/sql"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/tracing"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// stopTimeout bounds how long shutdown waits for the tick in flight.
const stopTimeout = 30 * time.Minute

// GetApplicationOptions builds the fx options shared by every command.
// serve adds the scheduling loop and the metrics exporter.
func GetApplicationOptions(envFilePath, configFilePath string, embedded config.EmbeddedConfig, serve bool) []fx.Option {
	var options []fx.Option

	options = append(options, fx.Supply(
		embedded,
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		fx.Annotate(configFilePath, fx.ResultTags(`name:"configFilePath"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, gormadapter.Module)
	options = append(options, sqlserver.Module, postgres.Module, mysql.Module, sqlite.Module)
	options = append(options, tracing.Module)
	options = append(options, retry.Module)
	options = append(options, source.Module)
	options = append(options, target.Module)
	options = append(options, sqlrepo.Module)
	options = append(options, pipeline.Module)
	options = append(options, orchestrator.Module)
	options = append(options, migration.Module)

	if serve {
		options = append(options, metrics.ServerModule)
		options = append(options, scheduler.LoopModule)
		options = append(options, fx.StopTimeout(stopTimeout))
	} else {
		options = append(options, metrics.Module)
		options = append(options, scheduler.Module)
	}
	return options
}
