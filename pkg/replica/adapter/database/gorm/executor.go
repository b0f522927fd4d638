package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName points the session at the model's table when the model (or
// the element type of a slice model) implements TableNamer.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}
	val := reflect.ValueOf(model)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
			return db.Table(namer.TableName())
		}
	}
	return db.Model(model)
}

// gormExecutor implements database.DBExecutor and database.SchemaInspector on
// a *gorm.DB, which may be a pooled handle, a pinned session or a transaction.
type gormExecutor struct {
	db *gorm.DB
}

func (e gormExecutor) session(ctx context.Context) *gorm.DB {
	return e.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
}

// ExecuteUpdate implements database.DBExecutor.
func (e gormExecutor) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := e.session(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		if len(query) == 0 {
			return 0, fmt.Errorf("refusing UPDATE without a WHERE condition")
		}
		if tableName == "" {
			db = applyTableName(db, model)
		}
		result = db.Where(query).Updates(model)
	case "DELETE":
		if len(query) == 0 {
			return 0, fmt.Errorf("refusing DELETE without a WHERE condition")
		}
		result = db.Where(query).Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteQuery implements database.DBExecutor.
func (e gormExecutor) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	db := applyTableName(e.session(ctx), target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	return db.Find(target).Error
}

// ExecuteQueryAdvanced implements database.DBExecutor.
func (e gormExecutor) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := applyTableName(e.session(ctx), target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderColumn(orderBy))
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

// orderColumn turns "Column" or "Column desc" into a quoted order clause so
// mixed-case column names survive on PostgreSQL. Anything else is passed raw.
func orderColumn(orderBy string) interface{} {
	fields := strings.Fields(orderBy)
	switch {
	case len(fields) == 1:
		return clause.OrderByColumn{Column: clause.Column{Name: fields[0]}}
	case len(fields) == 2 && (strings.EqualFold(fields[1], "desc") || strings.EqualFold(fields[1], "asc")):
		return clause.OrderByColumn{Column: clause.Column{Name: fields[0]}, Desc: strings.EqualFold(fields[1], "desc")}
	}
	return orderBy
}

// ExecuteRaw implements database.DBExecutor.
func (e gormExecutor) ExecuteRaw(ctx context.Context, target interface{}, query string, args ...interface{}) error {
	return e.session(ctx).Raw(query, args...).Scan(target).Error
}

// ExecuteStatement implements database.DBExecutor.
func (e gormExecutor) ExecuteStatement(ctx context.Context, statement string, args ...interface{}) (int64, error) {
	result := e.session(ctx).Exec(statement, args...)
	return result.RowsAffected, result.Error
}

// QueryRows implements database.DBExecutor.
func (e gormExecutor) QueryRows(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return e.session(ctx).Raw(query, args...).Rows()
}

// Count implements database.DBExecutor.
func (e gormExecutor) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	var count int64
	db := applyTableName(e.session(ctx), model)
	if len(query) > 0 {
		db = db.Where(query)
	}
	err := db.Count(&count).Error
	return count, err
}

// HasTable implements database.SchemaInspector.
func (e gormExecutor) HasTable(ctx context.Context, table string) (bool, error) {
	return e.db.WithContext(ctx).Migrator().HasTable(table), nil
}

// ColumnNames implements database.SchemaInspector. The columns are read from
// an empty result set so the order matches the table definition.
func (e gormExecutor) ColumnNames(ctx context.Context, table string) ([]string, error) {
	rows, err := e.session(ctx).Table(table).Where("1 = 0").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// GetGormDB returns the underlying *gorm.DB.
func (e gormExecutor) GetGormDB() *gorm.DB {
	return e.db
}

func runTransaction(ctx context.Context, db *gorm.DB, fn func(tx database.DBExecutor) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormExecutor{db: tx})
	})
}

var (
	_ database.DBExecutor      = gormExecutor{}
	_ database.SchemaInspector = gormExecutor{}
)
