package pipeline

import (
	"context"

	"github.com/tigerroll/replica/pkg/replica/component/writer"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/engine/source"
	"github.com/tigerroll/replica/pkg/replica/engine/target"
)

// SourceSession is a pinned source connection.
type SourceSession interface {
	FetchAll(ctx context.Context, table string) (*model.RowSet, error)
	FetchChanges(ctx context.Context, table string, marker model.ChangeMarker) (*model.RowSet, error)
	Close() error
}

// TargetSession is a pinned destination connection and the writer loading through it.
type TargetSession interface {
	target.Catalog
	Writer() (writer.BulkWriter, error)
	Close() error
}

// Connector pins the per-entity connections.
type Connector interface {
	PinSource(ctx context.Context) (SourceSession, error)
	PinTarget(ctx context.Context) (TargetSession, error)
}

// DBConnector pins sessions from the configured source and target.
type DBConnector struct {
	source *source.Source
	target *target.Target
	retry  *retry.Executor
}

// NewDBConnector creates a DBConnector.
func NewDBConnector(src *source.Source, tgt *target.Target, retryExecutor *retry.Executor) *DBConnector {
	return &DBConnector{source: src, target: tgt, retry: retryExecutor}
}

// PinSource implements Connector.
func (c *DBConnector) PinSource(ctx context.Context) (SourceSession, error) {
	return c.source.Pin(ctx)
}

// PinTarget implements Connector.
func (c *DBConnector) PinTarget(ctx context.Context) (TargetSession, error) {
	s, err := c.target.Pin(ctx)
	if err != nil {
		return nil, err
	}
	return &targetSession{Session: s, retry: c.retry}, nil
}

type targetSession struct {
	*target.Session
	retry *retry.Executor
}

// Writer returns the dialect's bulk writer wrapped in the retry policy.
func (s *targetSession) Writer() (writer.BulkWriter, error) {
	w, err := writer.New(s.DB, s.Conn.Config().SchemaOrDefault())
	if err != nil {
		return nil, err
	}
	return writer.NewRetryingWriter(w, s.retry), nil
}

var _ Connector = (*DBConnector)(nil)
