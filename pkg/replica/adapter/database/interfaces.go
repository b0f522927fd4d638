// Package database defines the database connection abstractions used by the
// run-history store, the source and target catalogs and the bulk writers.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	coreAdapter "github.com/tigerroll/replica/pkg/replica/core/adapter"
)

// DBExecutor defines the read and write operations shared by connections,
// transactions and pinned sessions.
type DBExecutor interface {
	// ExecuteUpdate performs a CREATE, UPDATE or DELETE of model against tableName.
	// For UPDATE, query selects the rows and model holds the new column values.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteQuery loads the records matching query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced is ExecuteQuery with optional ordering and limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// ExecuteRaw runs a raw SELECT and scans the result into target.
	ExecuteRaw(ctx context.Context, target interface{}, query string, args ...interface{}) error

	// ExecuteStatement runs a raw statement that returns no rows.
	ExecuteStatement(ctx context.Context, statement string, args ...interface{}) (rowsAffected int64, err error)

	// QueryRows runs a raw SELECT and returns the open cursor. The caller closes it.
	QueryRows(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// Count counts the records matching query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// SchemaInspector answers questions about the physical schema.
type SchemaInspector interface {
	// HasTable reports whether table exists in the connection's default schema.
	HasTable(ctx context.Context, table string) (bool, error)
	// ColumnNames returns the columns of table in ordinal order.
	ColumnNames(ctx context.Context, table string) ([]string, error)
}

// DBSession is a handle pinned to one physical connection. Each entity
// pipeline acquires its own sessions so that connections are never shared
// across entities.
type DBSession interface {
	DBExecutor
	SchemaInspector

	// Conn returns the pinned connection.
	Conn() *sql.Conn
	// Dialect returns the database type of the session.
	Dialect() string
	// Transaction runs fn inside a transaction on the pinned connection.
	Transaction(ctx context.Context, fn func(tx DBExecutor) error) error
	// Close returns the connection to the pool.
	Close() error
}

// DBConnection represents a pooled database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection
	DBExecutor
	SchemaInspector

	// Transaction runs fn inside a transaction.
	Transaction(ctx context.Context, fn func(tx DBExecutor) error) error
	// Pin acquires a dedicated session from the pool.
	Pin(ctx context.Context) (DBSession, error)
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the database.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a healthy database connection by name.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveDBConnection resolves a database connection by name, reconnecting
	// when the cached connection no longer answers a ping.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider creates and caches the connections of one database type.
type DBProvider interface {
	GetConnection(name string) (DBConnection, error)
	CloseAll() error
	Type() string
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the fx value group collecting every DBProvider.
const DBProviderGroup = `group:"db_providers"`
