package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	coreAdapter "github.com/tigerroll/replica/pkg/replica/core/adapter"
)

// Module exports the resolver; dialect providers live in the sub-packages.
var Module = fx.Options(
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r }),
	fx.Provide(func(r *GormDBConnectionResolver) coreAdapter.ResourceConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return r.CloseAll() },
		})
	}),
)
