package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// SQLServerWriter bulk-copies rows with the TDS bulk-load protocol, holding a
// table lock and firing the destination's triggers.
type SQLServerWriter struct {
	conn   *sql.Conn
	schema string
}

// NewSQLServerWriter creates a writer on a pinned connection.
func NewSQLServerWriter(conn *sql.Conn, schema string) *SQLServerWriter {
	if schema == "" {
		schema = "dbo"
	}
	return &SQLServerWriter{conn: conn, schema: schema}
}

// BulkOptions are the options every copy runs with.
var BulkOptions = mssql.BulkOptions{
	Tablock:      true,
	FireTriggers: true,
	KeepNulls:    true,
}

func quoteMSSQL(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Write implements BulkWriter. The copy runs in its own transaction.
func (w *SQLServerWriter) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	project, err := projector(rows, mapping)
	if err != nil {
		return err
	}

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	qualified := quoteMSSQL(w.schema) + "." + quoteMSSQL(table)
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(qualified, BulkOptions, mapping.Destination...))
	if err != nil {
		return fmt.Errorf("failed to prepare bulk copy into %s: %w", qualified, err)
	}
	defer stmt.Close()

	for i := 0; i < rows.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, project(i)...); err != nil {
			return fmt.Errorf("failed to buffer row %d for %s: %w", i, qualified, err)
		}
	}
	result, err := stmt.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("bulk copy into %s failed: %w", qualified, err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	copied, _ := result.RowsAffected()
	logger.Debugf("Bulk-copied %d rows into %s.", copied, qualified)
	return nil
}
