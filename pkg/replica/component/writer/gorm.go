package writer

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// DefaultBatchSize is the number of rows per INSERT for the gorm writer.
const DefaultBatchSize = 500

// GormDBProvider is implemented by sessions backed by gorm.
type GormDBProvider interface {
	GetGormDB() *gorm.DB
}

// GormWriter inserts rows in batches through gorm. It serves MySQL, under
// LOCK TABLES, and SQLite.
type GormWriter struct {
	db        *gorm.DB
	dialect   string
	BatchSize int
}

// NewGormWriter creates a writer on a gorm-backed session.
func NewGormWriter(session database.DBSession) (*GormWriter, error) {
	p, ok := session.(GormDBProvider)
	if !ok {
		return nil, fmt.Errorf("session of type %T is not backed by gorm", session)
	}
	return &GormWriter{db: p.GetGormDB(), dialect: session.Dialect(), BatchSize: DefaultBatchSize}, nil
}

func (w *GormWriter) records(rows *model.RowSet, mapping model.ColumnMapping) ([]map[string]interface{}, error) {
	project, err := projector(rows, mapping)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, rows.Len())
	for i := range out {
		values := project(i)
		rec := make(map[string]interface{}, len(values))
		for k, col := range mapping.Destination {
			rec[col] = values[k]
		}
		out[i] = rec
	}
	return out, nil
}

// Write implements BulkWriter.
func (w *GormWriter) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	records, err := w.records(rows, mapping)
	if err != nil {
		return err
	}
	db := w.db.WithContext(ctx)
	if w.dialect == "mysql" {
		err = w.writeLocked(db, table, records)
	} else {
		err = db.Transaction(func(tx *gorm.DB) error {
			return insert(tx, table, records, w.BatchSize)
		})
	}
	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", table, err)
	}
	logger.Debugf("Inserted %d rows into %s.", len(records), table)
	return nil
}

// writeLocked follows the MySQL LOCK TABLES protocol (autocommit off, lock,
// insert, commit, unlock); LOCK TABLES implicitly commits an open transaction.
func (w *GormWriter) writeLocked(db *gorm.DB, table string, records []map[string]interface{}) (err error) {
	quoted := "`" + strings.ReplaceAll(table, "`", "``") + "`"
	if err = db.Exec("SET autocommit = 0").Error; err != nil {
		return err
	}
	defer func() {
		if err != nil {
			db.Exec("ROLLBACK")
		}
		db.Exec("UNLOCK TABLES")
		db.Exec("SET autocommit = 1")
	}()
	if err = db.Exec("LOCK TABLES " + quoted + " WRITE").Error; err != nil {
		return err
	}
	if err = insert(db, table, records, w.BatchSize); err != nil {
		return err
	}
	return db.Exec("COMMIT").Error
}

func insert(db *gorm.DB, table string, records []map[string]interface{}, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return db.Table(table).CreateInBatches(records, batchSize).Error
}
