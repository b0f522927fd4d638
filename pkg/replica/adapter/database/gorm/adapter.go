package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
)

// GormDBAdapter implements database.DBConnection on a pooled *gorm.DB.
type GormDBAdapter struct {
	gormExecutor
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

// NewGormDBAdapter wraps an open *gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) *GormDBAdapter {
	sqlDB, _ := db.DB()
	return &GormDBAdapter{
		gormExecutor: gormExecutor{db: db},
		sqlDB:        sqlDB,
		cfg:          cfg,
		name:         name,
	}
}

// Close closes the underlying pool.
func (a *GormDBAdapter) Close() error {
	if a.sqlDB == nil {
		return nil
	}
	return a.sqlDB.Close()
}

// Type returns the database type.
func (a *GormDBAdapter) Type() string { return a.cfg.Type }

// Name returns the connection name.
func (a *GormDBAdapter) Name() string { return a.name }

// Config returns the connection's configuration.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig { return a.cfg }

// GetSQLDB returns the underlying pool.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("connection %q has no underlying *sql.DB", a.name)
	}
	return a.sqlDB, nil
}

// RefreshConnection pings the database.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	sqlDB, err := a.GetSQLDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction implements database.DBConnection.
func (a *GormDBAdapter) Transaction(ctx context.Context, fn func(tx database.DBExecutor) error) error {
	return runTransaction(ctx, a.db, fn)
}

// Pin acquires a dedicated connection and returns a session bound to it.
func (a *GormDBAdapter) Pin(ctx context.Context) (database.DBSession, error) {
	sqlDB, err := a.GetSQLDB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire a connection from %q: %w", a.name, err)
	}
	// A Context forces a private Statement, so setting its ConnPool does not leak into the pool handle.
	db := a.db.Session(&gorm.Session{NewDB: true, SkipDefaultTransaction: true, Context: ctx})
	db.Statement.ConnPool = conn
	return &gormSession{gormExecutor: gormExecutor{db: db}, conn: conn, dialect: a.cfg.Type}, nil
}

// IsTableNotExistError reports whether err means the referenced table is missing.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return IsTableNotExistError(err)
}

// IsTableNotExistError recognises missing-table errors from the supported dialects.
func IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Invalid object name") || // SQL Server (208)
		(strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) || // MySQL
		strings.Contains(msg, "no such table:") // SQLite
}

// gormSession implements database.DBSession on a pinned *sql.Conn.
type gormSession struct {
	gormExecutor
	conn    *sql.Conn
	dialect string
}

func (s *gormSession) Conn() *sql.Conn  { return s.conn }
func (s *gormSession) Dialect() string  { return s.dialect }
func (s *gormSession) Close() error     { return s.conn.Close() }

func (s *gormSession) Transaction(ctx context.Context, fn func(tx database.DBExecutor) error) error {
	return runTransaction(ctx, s.db, fn)
}

var (
	_ database.DBConnection = (*GormDBAdapter)(nil)
	_ database.DBSession    = (*gormSession)(nil)
)
