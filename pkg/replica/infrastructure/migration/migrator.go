// Package migration creates and upgrades the run-history schema on the target
// database with golang-migrate and the embedded per-dialect scripts.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	mysqlprovider "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/mysql"
	pgprovider "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/postgres"
	sqliteprovider "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/sqlite"
	mssqlprovider "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm/sqlserver"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "replica_schema_migrations"

//go:embed resource
var migrationFS embed.FS

// Migrator applies the run-history migrations to one connection.
type Migrator struct {
	conn database.DBConnection
}

// NewMigrator creates a Migrator for conn.
func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn}
}

// Up applies all pending migrations. It is a no-op when the schema is current.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mi *migrate.Migrate) error { return mi.Up() })
}

// Down reverts every migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mi *migrate.Migrate) error { return mi.Down() })
}

// Version returns the applied schema version, 0 when none is applied.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.run(ctx, "version", func(mi *migrate.Migrate) error {
		var err error
		version, dirty, err = mi.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

func (m *Migrator) run(ctx context.Context, command string, fn func(*migrate.Migrate) error) error {
	cfg := m.conn.Config()
	dialect := cfg.Type
	logger.Infof("Executing migration '%s' on '%s' (%s, table %s).", command, m.conn.Name(), dialect, MigrationsTable)

	sub, err := fs.Sub(migrationFS, "resource/"+dialect)
	if err != nil {
		return fmt.Errorf("no migrations for database type %s: %w", dialect, err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for %s: %w", dialect, err)
	}

	// golang-migrate closes the *sql.DB it was given, so it gets its own pool
	// rather than the connection's.
	sqlDB, err := openDedicated(cfg)
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to reach '%s' for migration: %w", m.conn.Name(), err)
	}
	dbDriver, err := databaseDriver(dialect, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create migration database driver: %w", err)
	}

	mi, err := migrate.NewWithInstance("iofs", sourceDriver, dialect, dbDriver)
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer mi.Close()

	if err := fn(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration '%s' failed on '%s': %w", command, m.conn.Name(), err)
	}
	logger.Infof("Migration '%s' on '%s' completed.", command, m.conn.Name())
	return nil
}

func openDedicated(cfg dbconfig.DatabaseConfig) (*sql.DB, error) {
	var driverName, dsn string
	switch cfg.Type {
	case "sqlserver":
		driverName, dsn = "sqlserver", mssqlprovider.ConnectionString(cfg)
	case "postgres":
		driverName, dsn = "pgx", pgprovider.ConnectionString(cfg)
	case "mysql":
		driverName, dsn = "mysql", mysqlprovider.ConnectionString(cfg)
	case "sqlite":
		driverName, dsn = "sqlite3", sqliteprovider.ConnectionString(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", cfg.Type)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for migration: %w", cfg.Type, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func databaseDriver(dialect string, db *sql.DB) (migratedb.Driver, error) {
	switch dialect {
	case "sqlserver":
		return sqlserver.WithInstance(db, &sqlserver.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: MigrationsTable})
	}
	return nil, fmt.Errorf("unsupported database type for migration: %s", dialect)
}
