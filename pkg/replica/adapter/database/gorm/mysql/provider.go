// Package mysql provides a GORM DBProvider implementation for MySQL targets.
package mysql

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	"github.com/tigerroll/replica/pkg/replica/core/config"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the go-sql-driver DSN. parseTime is always on so
// DATETIME columns scan into time.Time.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Provider implements database.DBProvider for MySQL.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}

// Module exports the MySQL DBProvider for dependency injection.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(database.DBProviderGroup),
		),
	),
)
