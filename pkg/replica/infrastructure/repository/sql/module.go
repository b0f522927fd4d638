package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

// StoreParams collects the store's dependencies.
type StoreParams struct {
	fx.In
	Resolver database.DBConnectionResolver
	Cfg      *config.Config
	Versions repository.VersionSource
	Retry    *retry.Executor
}

// NewStoreFromConfig creates the store on the configured target connection.
func NewStoreFromConfig(p StoreParams) repository.LoadStatusStore {
	return NewSQLLoadStatusStore(p.Resolver, p.Cfg.Replica.Engine.TargetDBRef, p.Versions, p.Retry)
}

// Module provides the SQL-backed LoadStatusStore.
var Module = fx.Provide(NewStoreFromConfig)
