package gorm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	config "github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// DialectorFactory builds the gorm dialector for one configured connection.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

// dialects maps a replica.database.<name>.type value to its dialector.
// Driver sub-packages fill it from init.
var dialects = struct {
	sync.RWMutex
	byType map[string]DialectorFactory
}{byType: map[string]DialectorFactory{}}

// pingTimeout bounds the reachability check made when a connection is opened.
const pingTimeout = 15 * time.Second

// RegisterDialector makes dbType available to NewBaseProvider. A second
// registration for the same type replaces the first.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialects.Lock()
	defer dialects.Unlock()
	if _, dup := dialects.byType[dbType]; dup {
		logger.Warnf("Dialector for '%s' registered twice; keeping the latest.", dbType)
	}
	dialects.byType[dbType] = factory
}

func dialectorFor(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
	dialects.RLock()
	factory, ok := dialects.byType[cfg.Type]
	known := make([]string, 0, len(dialects.byType))
	for t := range dialects.byType {
		known = append(known, t)
	}
	dialects.RUnlock()

	if !ok {
		sort.Strings(known)
		return nil, fmt.Errorf("database type %q is not linked into this binary (available: %s)", cfg.Type, strings.Join(known, ", "))
	}
	return factory(cfg)
}

// LookupDatabaseConfig decodes the named entry of replica.database.
func LookupDatabaseConfig(cfg *config.Config, name string) (dbconfig.DatabaseConfig, error) {
	raw, ok := cfg.Replica.AdapterConfigs[name]
	if !ok {
		return dbconfig.DatabaseConfig{}, fmt.Errorf("database configuration '%s' not found under replica.database", name)
	}
	dbConfig, err := dbconfig.Decode(raw)
	if err != nil {
		return dbconfig.DatabaseConfig{}, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return dbConfig, nil
}

// BaseProvider opens and caches the connections of one database type. The
// source and target refs each get one pooled *gorm.DB for the process.
type BaseProvider struct {
	cfg    *config.Config
	dbType string

	mu   sync.Mutex
	open map[string]*GormDBAdapter
}

// NewBaseProvider creates a provider for dbType.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{cfg: cfg, dbType: dbType, open: map[string]*GormDBAdapter{}}
}

// Type returns the database type served by this provider.
func (p *BaseProvider) Type() string { return p.dbType }

// GetConnection returns the cached connection for name, opening it on first use.
func (p *BaseProvider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.open[name]; ok {
		return conn, nil
	}
	return p.openLocked(name)
}

// ForceReconnect drops the cached connection for name and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stale, ok := p.open[name]; ok {
		delete(p.open, name)
		if err := stale.Close(); err != nil {
			logger.Warnf("Closing stale connection '%s' failed: %v", name, err)
		}
	}
	conn, err := p.openLocked(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Reconnected '%s' (%s).", name, p.dbType)
	return conn, nil
}

func (p *BaseProvider) openLocked(name string) (*GormDBAdapter, error) {
	const op = "BaseProvider.open"

	dbConfig, err := LookupDatabaseConfig(p.cfg, name)
	if err != nil {
		return nil, exception.NewBatchError(op, "invalid connection settings", err, false)
	}
	if dbConfig.Type != p.dbType {
		return nil, exception.NewBatchErrorf(op, "connection '%s' is type '%s', provider serves '%s'", name, dbConfig.Type, p.dbType)
	}

	dialector, err := dialectorFor(dbConfig)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("no dialector for connection '%s'", name), err, false)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(p.sqlLogLevel()),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to open connection '%s'", name), err, true)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError(op, "gorm returned no *sql.DB", err, false)
	}
	tunePool(sqlDB, dbConfig.Pool)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, exception.NewBatchError(op, fmt.Sprintf("connection '%s' is unreachable", name), err, true)
	}

	conn := NewGormDBAdapter(db, dbConfig, name)
	p.open[name] = conn
	logger.WithFields(map[string]interface{}{"conn": name, "type": p.dbType, "host": dbConfig.Host}).
		Infof("Connected.")
	return conn, nil
}

// sqlLogLevel keeps gorm quiet unless the process logs at DEBUG.
func (p *BaseProvider) sqlLogLevel() string {
	if strings.EqualFold(p.cfg.Replica.System.Logging.Level, "DEBUG") {
		return "INFO"
	}
	return "SILENT"
}

type poolSetter interface {
	SetMaxOpenConns(n int)
	SetMaxIdleConns(n int)
	SetConnMaxLifetime(d time.Duration)
}

// tunePool applies the non-zero pool settings. Zero leaves the driver default.
func tunePool(db poolSetter, pool dbconfig.PoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
}

// CloseAll closes every cached connection and reports all failures.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.open {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.open, name)
	}
	return result.ErrorOrNil()
}
