package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

const (
	queryCurrentVersion = `SELECT CHANGE_TRACKING_CURRENT_VERSION()`

	queryPendingChanges = `SELECT name FROM sys.objects ` +
		`WHERE object_id IN (SELECT object_id FROM sys.change_tracking_tables WHERE min_valid_version <= ?) ` +
		`AND type = 'U'`

	queryTables = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES ` +
		`WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ? ORDER BY TABLE_NAME`

	queryColumns = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS ` +
		`WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`

	queryPrimaryKey = `SELECT KCU.COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE AS KCU ` +
		`WHERE OBJECTPROPERTY(OBJECT_ID(QUOTENAME(KCU.CONSTRAINT_SCHEMA) + '.' + QUOTENAME(KCU.CONSTRAINT_NAME)), 'IsPrimaryKey') = 1 ` +
		`AND KCU.TABLE_SCHEMA = ? AND KCU.TABLE_NAME = ? ORDER BY KCU.ORDINAL_POSITION`

	changeOperationColumn = "SYS_CHANGE_OPERATION"
)

// SQLServerCatalog implements Catalog and ChangeSetResolver with SQL Server
// change tracking. Every query is retried on transient faults.
type SQLServerCatalog struct {
	q      Querier
	schema string
	retry  *retry.Executor
}

// NewSQLServerCatalog creates a catalog over q. An empty schema means dbo.
func NewSQLServerCatalog(q Querier, schema string, retryExecutor *retry.Executor) *SQLServerCatalog {
	if schema == "" {
		schema = "dbo"
	}
	if retryExecutor == nil {
		retryExecutor = retry.NewExecutor(nil)
	}
	return &SQLServerCatalog{q: q, schema: schema, retry: retryExecutor}
}

// QuoteIdent bracket-quotes a SQL Server identifier, doubling embedded brackets.
func QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (c *SQLServerCatalog) qualified(table string) string {
	return QuoteIdent(c.schema) + "." + QuoteIdent(table)
}

// CurrentVersion implements Catalog and repository.VersionSource.
func (c *SQLServerCatalog) CurrentVersion(ctx context.Context) (model.ChangeMarker, error) {
	return retry.Value(ctx, c.retry, "source.CurrentVersion", func(ctx context.Context) (model.ChangeMarker, error) {
		rows, err := c.q.QueryRows(ctx, queryCurrentVersion)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var v sql.NullInt64
		if rows.Next() {
			if err := rows.Scan(&v); err != nil {
				return 0, err
			}
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
		if !v.Valid {
			return 0, fmt.Errorf("change tracking is not enabled on the source database")
		}
		return model.ChangeMarker(v.Int64), nil
	})
}

// ListEntitiesWithPendingChanges implements ChangeSetResolver. The NoBaseline
// marker is queried as 0.
func (c *SQLServerCatalog) ListEntitiesWithPendingChanges(ctx context.Context, floor model.ChangeMarker) (model.TableSet, error) {
	if floor < 0 {
		floor = 0
	}
	names, err := c.strings(ctx, "source.ListEntitiesWithPendingChanges", queryPendingChanges, int64(floor))
	if err != nil {
		return nil, err
	}
	return model.NewTableSet(names...), nil
}

// ListTables implements Catalog.
func (c *SQLServerCatalog) ListTables(ctx context.Context) ([]string, error) {
	return c.strings(ctx, "source.ListTables", queryTables, c.schema)
}

// Columns implements Catalog.
func (c *SQLServerCatalog) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := c.strings(ctx, "source.Columns", queryColumns, c.schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("source table %s has no columns or does not exist", c.qualified(table))
	}
	return cols, nil
}

// PrimaryKey implements Catalog.
func (c *SQLServerCatalog) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	return c.strings(ctx, "source.PrimaryKey", queryPrimaryKey, c.schema, table)
}

// FetchAll implements Catalog.
func (c *SQLServerCatalog) FetchAll(ctx context.Context, table string) (*model.RowSet, error) {
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = QuoteIdent(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), c.qualified(table))

	return retry.Value(ctx, c.retry, "source.FetchAll", func(ctx context.Context) (*model.RowSet, error) {
		rs := &model.RowSet{Entity: table, Columns: cols}
		err := c.scan(ctx, query, nil, len(cols), func(values []any) error {
			rs.Rows = append(rs.Rows, model.RowChangeRecord{Values: values, Op: model.OpNew})
			return nil
		})
		return rs, err
	})
}

// FetchChanges implements Catalog and ChangeSetResolver. Rows are the table's
// columns in ordinal order; key columns come from the change feed so deleted
// rows keep their key.
func (c *SQLServerCatalog) FetchChanges(ctx context.Context, table string, marker model.ChangeMarker) (*model.RowSet, error) {
	if !marker.HasBaseline() {
		return nil, fmt.Errorf("cannot fetch changes of %s without a baseline marker", table)
	}
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	keys, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, c.qualified(table))
	}
	query := buildChangesQuery(c.qualified(table), cols, keys)

	return retry.Value(ctx, c.retry, "source.FetchChanges", func(ctx context.Context) (*model.RowSet, error) {
		rs := &model.RowSet{Entity: table, Columns: cols}
		err := c.scan(ctx, query, []interface{}{int64(marker)}, len(cols)+1, func(values []any) error {
			op, err := ParseChangeOperation(values[len(cols)])
			if err != nil {
				return err
			}
			rs.Rows = append(rs.Rows, model.RowChangeRecord{Values: values[:len(cols)], Op: op})
			return nil
		})
		return rs, err
	})
}

func buildChangesQuery(qualified string, cols, keys []string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[strings.ToLower(k)] = true
	}
	projection := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		if isKey[strings.ToLower(col)] {
			projection = append(projection, "CT."+QuoteIdent(col))
		} else {
			projection = append(projection, "T."+QuoteIdent(col))
		}
	}
	projection = append(projection, "CT."+changeOperationColumn)

	join := make([]string, len(keys))
	for i, k := range keys {
		join[i] = fmt.Sprintf("T.%s = CT.%s", QuoteIdent(k), QuoteIdent(k))
	}
	return fmt.Sprintf("SELECT %s FROM CHANGETABLE(CHANGES %s, ?) AS CT LEFT OUTER JOIN %s AS T ON %s",
		strings.Join(projection, ", "), qualified, qualified, strings.Join(join, " AND "))
}

// ParseChangeOperation converts a SYS_CHANGE_OPERATION value into an Operation.
func ParseChangeOperation(v any) (model.Operation, error) {
	switch s := v.(type) {
	case string:
		return model.ParseOperation(strings.TrimSpace(s))
	case []byte:
		return model.ParseOperation(strings.TrimSpace(string(s)))
	}
	return 0, fmt.Errorf("unexpected %s value %v (%T)", changeOperationColumn, v, v)
}

func (c *SQLServerCatalog) strings(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	return retry.Value(ctx, c.retry, op, func(ctx context.Context) ([]string, error) {
		var out []string
		err := c.scan(ctx, query, args, 1, func(values []any) error {
			s, ok := asString(values[0])
			if !ok {
				return fmt.Errorf("%s: unexpected value %v (%T)", op, values[0], values[0])
			}
			out = append(out, s)
			return nil
		})
		return out, err
	})
}

func (c *SQLServerCatalog) scan(ctx context.Context, query string, args []interface{}, width int, each func([]any) error) error {
	rows, err := c.q.QueryRows(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if err := each(values); err != nil {
			return err
		}
	}
	return rows.Err()
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

var (
	_ Catalog           = (*SQLServerCatalog)(nil)
	_ ChangeSetResolver = (*SQLServerCatalog)(nil)
)
