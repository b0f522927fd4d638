// Package writer bulk-loads row sets into destination tables.
package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// BulkWriter loads a row set into a destination table. Values are taken in
// mapping.Source order and written to mapping.Destination.
type BulkWriter interface {
	Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error
}

// projector returns a function producing row i's values in mapping order.
// Every projected column of rows must be mapped.
func projector(rows *model.RowSet, mapping model.ColumnMapping) (func(i int) []any, error) {
	projected := rows.ProjectedColumns()
	if col, ok := mapping.Covers(projected); !ok {
		return nil, fmt.Errorf("%w: %s.%s", model.ErrUnmappedColumn, rows.Entity, col)
	}
	if len(mapping.Source) != len(mapping.Destination) {
		return nil, fmt.Errorf("column mapping of %s has %d sources and %d destinations", rows.Entity, len(mapping.Source), len(mapping.Destination))
	}
	index := make([]int, len(mapping.Source))
	for i, src := range mapping.Source {
		index[i] = -1
		for j, p := range projected {
			if strings.EqualFold(src, p) {
				index[i] = j
				break
			}
		}
		if index[i] < 0 {
			return nil, fmt.Errorf("column mapping of %s names unknown source column %s", rows.Entity, src)
		}
	}
	return func(i int) []any {
		values := rows.Projected(i)
		out := make([]any, len(index))
		for k, j := range index {
			out[k] = values[j]
		}
		return out
	}, nil
}

// ValidateMapping checks that mapping covers every projected column of rows.
func ValidateMapping(rows *model.RowSet, mapping model.ColumnMapping) error {
	_, err := projector(rows, mapping)
	return err
}

// New returns the BulkWriter for the session's dialect. schema qualifies
// table names where the dialect uses one.
func New(session database.DBSession, schema string) (BulkWriter, error) {
	switch session.Dialect() {
	case "sqlserver":
		return NewSQLServerWriter(session.Conn(), schema), nil
	case "postgres":
		return NewPgxWriter(session.Conn(), schema), nil
	case "mysql", "sqlite":
		return NewGormWriter(session)
	}
	return nil, fmt.Errorf("no bulk writer for database type %q", session.Dialect())
}
