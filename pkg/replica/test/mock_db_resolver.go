// Package test provides test doubles shared by the package tests.
package test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite_driver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	dbconfig "github.com/tigerroll/replica/pkg/replica/adapter/database/config"
	gormadapter "github.com/tigerroll/replica/pkg/replica/adapter/database/gorm"
	coreAdapter "github.com/tigerroll/replica/pkg/replica/core/adapter"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// TestConnectionResolver resolves connection names from a fixed map.
type TestConnectionResolver struct {
	conns map[string]database.DBConnection
}

// NewTestConnectionResolver creates a resolver over the given connections.
func NewTestConnectionResolver(conns map[string]database.DBConnection) *TestConnectionResolver {
	return &TestConnectionResolver{conns: conns}
}

// NewTestSingleConnectionResolver returns conn for every name.
func NewTestSingleConnectionResolver(conn database.DBConnection) *TestConnectionResolver {
	return &TestConnectionResolver{conns: map[string]database.DBConnection{"*": conn}}
}

// ResolveDBConnection implements database.DBConnectionResolver.
func (r *TestConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	if c, ok := r.conns[name]; ok {
		return c, nil
	}
	if c, ok := r.conns["*"]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no test connection named %q", name)
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *TestConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

var sqliteSeq struct {
	sync.Mutex
	n int
}

// NewSQLiteConnection opens a private shared-cache in-memory SQLite database
// wrapped in the gorm adapter. It is closed when the test ends.
func NewSQLiteConnection(t testing.TB, name string) *gormadapter.GormDBAdapter {
	t.Helper()
	sqliteSeq.Lock()
	sqliteSeq.n++
	dsn := fmt.Sprintf("file:%s_%d_%d?mode=memory&cache=shared&_busy_timeout=5000", name, sqliteSeq.n, time.Now().UnixNano())
	sqliteSeq.Unlock()

	db, err := gorm.Open(sqlite_driver.Open(dsn), &gorm.Config{
		Logger:                 gorm_logger.Default.LogMode(gorm_logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", DSN: dsn, Pool: dbconfig.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 4}}
	conn := gormadapter.NewGormDBAdapter(db, cfg, name)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// StaticVersionSource is a VersionSource returning a settable version.
type StaticVersionSource struct {
	mu      sync.Mutex
	Version model.ChangeMarker
	Err     error
	Calls   int
}

// CurrentVersion implements repository.VersionSource.
func (s *StaticVersionSource) CurrentVersion(ctx context.Context) (model.ChangeMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	return s.Version, s.Err
}

// Set changes the version returned by later calls.
func (s *StaticVersionSource) Set(v model.ChangeMarker) {
	s.mu.Lock()
	s.Version = v
	s.mu.Unlock()
}
