package source

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	"github.com/tigerroll/replica/pkg/replica/core/config"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

// Source is the configured source connection. Orchestrator-level queries run
// on the pool; entity pipelines Pin a session of their own.
type Source struct {
	resolver database.DBConnectionResolver
	name     string
	retry    *retry.Executor
}

// NewSource creates a Source for the named connection.
func NewSource(resolver database.DBConnectionResolver, name string, retryExecutor *retry.Executor) *Source {
	return &Source{resolver: resolver, name: name, retry: retryExecutor}
}

// Name returns the connection name.
func (s *Source) Name() string { return s.name }

func (s *Source) catalog(ctx context.Context) (*SQLServerCatalog, error) {
	conn, err := s.resolver.ResolveDBConnection(ctx, s.name)
	if err != nil {
		return nil, err
	}
	if conn.Type() != "sqlserver" {
		return nil, fmt.Errorf("source connection '%s' is %s; change tracking needs sqlserver", s.name, conn.Type())
	}
	return NewSQLServerCatalog(conn, conn.Config().SchemaOrDefault(), s.retry), nil
}

// CurrentVersion implements repository.VersionSource.
func (s *Source) CurrentVersion(ctx context.Context) (model.ChangeMarker, error) {
	c, err := s.catalog(ctx)
	if err != nil {
		return 0, err
	}
	return c.CurrentVersion(ctx)
}

// ListEntitiesWithPendingChanges queries the pool.
func (s *Source) ListEntitiesWithPendingChanges(ctx context.Context, floor model.ChangeMarker) (model.TableSet, error) {
	c, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListEntitiesWithPendingChanges(ctx, floor)
}

// ListTables queries the pool.
func (s *Source) ListTables(ctx context.Context) ([]string, error) {
	c, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListTables(ctx)
}

// Session is a catalog bound to one pinned source connection.
type Session struct {
	*SQLServerCatalog
	session database.DBSession
}

// Close releases the pinned connection.
func (s *Session) Close() error { return s.session.Close() }

// Pin acquires a dedicated source connection.
func (s *Source) Pin(ctx context.Context) (*Session, error) {
	conn, err := s.resolver.ResolveDBConnection(ctx, s.name)
	if err != nil {
		return nil, err
	}
	session, err := conn.Pin(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{
		SQLServerCatalog: NewSQLServerCatalog(session, conn.Config().SchemaOrDefault(), s.retry),
		session:          session,
	}, nil
}

// NewSourceFromConfig creates the Source named by replica.engine.source_db_ref.
func NewSourceFromConfig(resolver database.DBConnectionResolver, cfg *config.Config, retryExecutor *retry.Executor) *Source {
	return NewSource(resolver, cfg.Replica.Engine.SourceDBRef, retryExecutor)
}

// Module provides the Source and exposes it as the run-history VersionSource.
var Module = fx.Options(
	fx.Provide(NewSourceFromConfig),
	fx.Provide(func(s *Source) repository.VersionSource { return s }),
)
