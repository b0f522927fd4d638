package writer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// PgxWriter loads rows with COPY FROM on the pinned connection's underlying
// pgx connection, under an exclusive table lock.
type PgxWriter struct {
	conn   *sql.Conn
	schema string
}

// NewPgxWriter creates a writer on a pinned connection opened by the pgx stdlib driver.
func NewPgxWriter(conn *sql.Conn, schema string) *PgxWriter {
	if schema == "" {
		schema = "public"
	}
	return &PgxWriter{conn: conn, schema: schema}
}

// Write implements BulkWriter.
func (w *PgxWriter) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	project, err := projector(rows, mapping)
	if err != nil {
		return err
	}
	ident := pgx.Identifier{w.schema, table}

	return w.conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("postgres connection uses %T, not the pgx driver", driverConn)
		}
		tx, err := sc.Conn().Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, "LOCK TABLE "+ident.Sanitize()+" IN EXCLUSIVE MODE"); err != nil {
			return fmt.Errorf("failed to lock %s: %w", ident.Sanitize(), err)
		}
		copied, err := tx.CopyFrom(ctx, ident, mapping.Destination, pgx.CopyFromSlice(rows.Len(), func(i int) ([]any, error) {
			return project(i), nil
		}))
		if err != nil {
			return fmt.Errorf("COPY into %s failed: %w", ident.Sanitize(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		logger.Debugf("Copied %d rows into %s.", copied, ident.Sanitize())
		return nil
	})
}
