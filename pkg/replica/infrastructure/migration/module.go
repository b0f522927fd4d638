package migration

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// Module applies the run-history migrations on start when
// replica.engine.migrate_on_start is set.
var Module = fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, resolver database.DBConnectionResolver) {
	if !cfg.Replica.Engine.MigrateOnStart {
		logger.Debugf("Skipping run-history migrations (migrate_on_start is off).")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := resolver.ResolveDBConnection(ctx, cfg.Replica.Engine.TargetDBRef)
			if err != nil {
				return err
			}
			return NewMigrator(conn).Up(ctx)
		},
	})
})
