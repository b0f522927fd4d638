// Package source reads the change-tracked SQL Server source: its tables, full
// snapshots and change sets.
package source

import (
	"context"
	"database/sql"
	"errors"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// ErrNoPrimaryKey is returned when a table without a primary key is asked for changes.
var ErrNoPrimaryKey = errors.New("table has no primary key")

// Querier runs a query and returns the open cursor. Connections, pinned
// sessions and transactions all satisfy it.
type Querier interface {
	QueryRows(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Catalog is the read surface of the source database.
type Catalog interface {
	// ListTables returns the user tables of the source schema.
	ListTables(ctx context.Context) ([]string, error)
	// Columns returns the columns of table in ordinal order.
	Columns(ctx context.Context, table string) ([]string, error)
	// PrimaryKey returns the primary-key columns of table in key order.
	PrimaryKey(ctx context.Context, table string) ([]string, error)
	// FetchAll returns every row of table tagged New.
	FetchAll(ctx context.Context, table string) (*model.RowSet, error)
	// CurrentVersion returns the current change-tracking version.
	CurrentVersion(ctx context.Context) (model.ChangeMarker, error)
	// FetchChanges returns the rows of table changed since marker.
	FetchChanges(ctx context.Context, table string, marker model.ChangeMarker) (*model.RowSet, error)
}

// ChangeSetResolver decides which entities have pending changes and fetches them.
type ChangeSetResolver interface {
	// ListEntitiesWithPendingChanges returns the tracked tables whose minimum
	// valid version is at or below floor.
	ListEntitiesWithPendingChanges(ctx context.Context, floor model.ChangeMarker) (model.TableSet, error)
	// FetchChanges returns the rows of entity changed since marker.
	FetchChanges(ctx context.Context, entity string, marker model.ChangeMarker) (*model.RowSet, error)
}
