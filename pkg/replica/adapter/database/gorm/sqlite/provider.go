// Package sqlite provides a GORM DBProvider implementation for SQLite targets,
// used for local runs and tests.
package sqlite

import (
	"errors"

	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	"github.com/tigerroll/replica/pkg/replica/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" && cfg.DSN == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the database file path (or DSN).
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.Database
}

// Provider implements database.DBProvider for SQLite.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the SQLite DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}

// Module exports the SQLite DBProvider for dependency injection.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(database.DBProviderGroup),
		),
	),
)
