// Package sqlserver provides the GORM DBProvider for SQL Server, the source
// dialect of every replication and a supported target.
package sqlserver

import (
	"fmt"
	"net/url"

	"go.uber.org/fx"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	"github.com/tigerroll/replica/pkg/replica/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlserver", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.DSN == "" && cfg.Host == "" {
			return nil, fmt.Errorf("sqlserver connection requires host or dsn")
		}
		return sqlserver.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds a go-mssqldb URL DSN.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host,
	}
	if c.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	q := url.Values{}
	q.Set("database", c.Database)
	if c.Sslmode != "" {
		q.Set("encrypt", c.Sslmode)
	}
	if c.AppName != "" {
		q.Set("app name", c.AppName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Provider implements database.DBProvider for SQL Server.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the SQL Server DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlserver")}
}

// Module exports the SQL Server DBProvider into the db_providers group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(database.DBProviderGroup),
		),
	),
)
