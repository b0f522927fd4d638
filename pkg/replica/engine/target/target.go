package target

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	"github.com/tigerroll/replica/pkg/replica/core/config"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

// Target is the configured destination connection.
type Target struct {
	resolver database.DBConnectionResolver
	name     string
	retry    *retry.Executor
}

// NewTarget creates a Target for the named connection.
func NewTarget(resolver database.DBConnectionResolver, name string, retryExecutor *retry.Executor) *Target {
	return &Target{resolver: resolver, name: name, retry: retryExecutor}
}

// Name returns the connection name.
func (t *Target) Name() string { return t.name }

// Connection resolves the pooled destination connection.
func (t *Target) Connection(ctx context.Context) (database.DBConnection, error) {
	return t.resolver.ResolveDBConnection(ctx, t.name)
}

// Session is a catalog bound to one pinned destination connection. Writers
// load through the same session.
type Session struct {
	*SQLCatalog
	DB   database.DBSession
	Conn database.DBConnection
}

// Close releases the pinned connection.
func (s *Session) Close() error { return s.DB.Close() }

// Pin acquires a dedicated destination connection.
func (t *Target) Pin(ctx context.Context) (*Session, error) {
	conn, err := t.Connection(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.Pin(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{SQLCatalog: NewSQLCatalog(session, t.retry), DB: session, Conn: conn}, nil
}

// NewTargetFromConfig creates the Target named by replica.engine.target_db_ref.
func NewTargetFromConfig(resolver database.DBConnectionResolver, cfg *config.Config, retryExecutor *retry.Executor) *Target {
	return NewTarget(resolver, cfg.Replica.Engine.TargetDBRef, retryExecutor)
}

// Module provides the Target.
var Module = fx.Provide(NewTargetFromConfig)
