// Package target manages the destination tables of the replica.
package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

// ErrUnmappedColumn is returned when a source column has no destination column.
var ErrUnmappedColumn = model.ErrUnmappedColumn

// Catalog is the schema surface of the destination database.
type Catalog interface {
	TableExists(ctx context.Context, table string) (bool, error)
	Truncate(ctx context.Context, table string) error
	Columns(ctx context.Context, table string) ([]string, error)
}

// Handle is the part of a database session the catalog needs.
type Handle interface {
	database.DBExecutor
	database.SchemaInspector
	Dialect() string
}

// SQLCatalog implements Catalog on a database handle.
type SQLCatalog struct {
	h     Handle
	retry *retry.Executor
}

// NewSQLCatalog creates a catalog over h.
func NewSQLCatalog(h Handle, retryExecutor *retry.Executor) *SQLCatalog {
	if retryExecutor == nil {
		retryExecutor = retry.NewExecutor(nil)
	}
	return &SQLCatalog{h: h, retry: retryExecutor}
}

// TableExists implements Catalog.
func (c *SQLCatalog) TableExists(ctx context.Context, table string) (bool, error) {
	return retry.Value(ctx, c.retry, "target.TableExists", func(ctx context.Context) (bool, error) {
		return c.h.HasTable(ctx, table)
	})
}

// Truncate implements Catalog. SQLite has no TRUNCATE and deletes instead.
func (c *SQLCatalog) Truncate(ctx context.Context, table string) error {
	stmt := "TRUNCATE TABLE " + QuoteIdent(c.h.Dialect(), table)
	if c.h.Dialect() == "sqlite" {
		stmt = "DELETE FROM " + QuoteIdent("sqlite", table)
	}
	return c.retry.Do(ctx, "target.Truncate", func(ctx context.Context) error {
		_, err := c.h.ExecuteStatement(ctx, stmt)
		return err
	})
}

// Columns implements Catalog.
func (c *SQLCatalog) Columns(ctx context.Context, table string) ([]string, error) {
	return retry.Value(ctx, c.retry, "target.Columns", func(ctx context.Context) ([]string, error) {
		return c.h.ColumnNames(ctx, table)
	})
}

// QuoteIdent quotes an identifier for dialect.
func QuoteIdent(dialect, name string) string {
	switch dialect {
	case "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildMapping maps every projected column of rs (including CDC_Type) to the
// destination column of the same case-insensitive name.
func BuildMapping(rs *model.RowSet, destination []string) (model.ColumnMapping, error) {
	byName := make(map[string]string, len(destination))
	for _, d := range destination {
		byName[strings.ToLower(d)] = d
	}
	projected := rs.ProjectedColumns()
	m := model.ColumnMapping{
		Source:      make([]string, 0, len(projected)),
		Destination: make([]string, 0, len(projected)),
	}
	for _, col := range projected {
		dest, ok := byName[strings.ToLower(col)]
		if !ok {
			return model.ColumnMapping{}, fmt.Errorf("%w: %s.%s", ErrUnmappedColumn, rs.Entity, col)
		}
		m.Source = append(m.Source, col)
		m.Destination = append(m.Destination, dest)
	}
	return m, nil
}

var _ Catalog = (*SQLCatalog)(nil)
