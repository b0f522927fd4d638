// Package postgres provides a GORM DBProvider implementation for PostgreSQL targets.
package postgres

import (
	"fmt"
	"strings"

	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	"github.com/tigerroll/replica/pkg/replica/core/config"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the keyword/value DSN shared by the GORM driver
// and pgxpool.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("password=%s", c.Password),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if c.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.Schema))
	}
	if c.AppName != "" {
		parts = append(parts, fmt.Sprintf("application_name=%s", c.AppName))
	}
	return strings.Join(parts, " ")
}

// Provider implements database.DBProvider for PostgreSQL.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the PostgreSQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}

// Module exports the PostgreSQL DBProvider for dependency injection.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(database.DBProviderGroup),
		),
	),
)
