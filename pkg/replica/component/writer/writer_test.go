package writer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/replica/pkg/replica/component/writer"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	testutil "github.com/tigerroll/replica/pkg/replica/test"
)

func sampleRows() *model.RowSet {
	return &model.RowSet{
		Entity:  "Regions",
		Columns: []string{"Id", "Name"},
		Rows: []model.RowChangeRecord{
			{Values: []any{int64(1), "North"}, Op: model.OpNew},
			{Values: []any{int64(2), "South"}, Op: model.OpUpdate},
			{Values: []any{int64(3), nil}, Op: model.OpDelete},
		},
	}
}

func sampleMapping() model.ColumnMapping {
	return model.ColumnMapping{
		Source:      []string{"Id", "Name", "CDC_Type"},
		Destination: []string{"Id", "Name", "CDC_Type"},
	}
}

type flakyWriter struct {
	failures int
	err      error
	calls    int
	ctxErr   error
}

func (w *flakyWriter) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	w.calls++
	w.ctxErr = ctx.Err()
	if w.calls <= w.failures {
		return w.err
	}
	return nil
}

func noSleepExecutor(attempts int) *retry.Executor {
	return retry.NewExecutor(retry.NewTransientPolicy(attempts, 100*time.Millisecond),
		retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
}

func TestValidateMapping_RequiresOperationColumn(t *testing.T) {
	err := writer.ValidateMapping(sampleRows(), model.ColumnMapping{
		Source:      []string{"Id", "Name"},
		Destination: []string{"Id", "Name"},
	})
	assert.True(t, errors.Is(err, model.ErrUnmappedColumn))
}

func TestRetryingWriter_RecoversFromTransientFaults(t *testing.T) {
	next := &flakyWriter{failures: 4, err: mssql.Error{Number: 1205}}
	w := writer.NewRetryingWriter(next, noSleepExecutor(5))

	require.NoError(t, w.WriteWithRetry(context.Background(), "Regions", sampleMapping(), sampleRows()))
	assert.Equal(t, 5, next.calls)
}

func TestRetryingWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	cause := mssql.Error{Number: 1222}
	next := &flakyWriter{failures: 10, err: cause}
	w := writer.NewRetryingWriter(next, noSleepExecutor(5))

	err := w.WriteWithRetry(context.Background(), "Regions", sampleMapping(), sampleRows())
	require.Error(t, err)
	assert.Equal(t, 5, next.calls)
	var got mssql.Error
	assert.True(t, errors.As(err, &got))
	assert.Equal(t, int32(1222), got.Number)
}

func TestRetryingWriter_UnmappedColumnIsNotRetried(t *testing.T) {
	next := &flakyWriter{}
	w := writer.NewRetryingWriter(next, noSleepExecutor(5))

	err := w.WriteWithRetry(context.Background(), "Regions", model.ColumnMapping{Source: []string{"Id"}, Destination: []string{"Id"}}, sampleRows())
	assert.True(t, errors.Is(err, model.ErrUnmappedColumn))
	assert.Equal(t, 0, next.calls)
}

func TestRetryingWriter_DetachesCancellation(t *testing.T) {
	next := &flakyWriter{}
	w := writer.NewRetryingWriter(next, noSleepExecutor(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, w.WriteWithRetry(ctx, "Regions", sampleMapping(), sampleRows()))
	assert.NoError(t, next.ctxErr)
}

func TestGormWriter_SQLite(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewSQLiteConnection(t, "writer")
	_, err := conn.ExecuteStatement(ctx, `CREATE TABLE Regions (id INTEGER, name TEXT, cdc_type TEXT)`)
	require.NoError(t, err)

	session, err := conn.Pin(ctx)
	require.NoError(t, err)
	defer session.Close()

	w, err := writer.New(session, "")
	require.NoError(t, err)

	mapping := model.ColumnMapping{
		Source:      []string{"Id", "Name", "CDC_Type"},
		Destination: []string{"id", "name", "cdc_type"},
	}
	require.NoError(t, w.Write(ctx, "Regions", mapping, sampleRows()))
	require.NoError(t, w.Write(ctx, "Regions", mapping, &model.RowSet{Entity: "Regions", Columns: []string{"Id", "Name"}}))

	type row struct {
		ID      int64
		Name    *string
		CDCType string
	}
	var got []row
	require.NoError(t, conn.ExecuteRaw(ctx, &got, `SELECT id AS id, name AS name, cdc_type AS cdc_type FROM Regions ORDER BY id`))
	require.Len(t, got, 3)
	assert.Equal(t, "N", got[0].CDCType)
	assert.Equal(t, "U", got[1].CDCType)
	assert.Equal(t, "D", got[2].CDCType)
	assert.Nil(t, got[2].Name)
}

func TestSQLServerWriter_BulkCopy(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		return nil
	})))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERTBULK")
	prep.ExpectExec().WithArgs(int64(1), "North", "N").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(int64(2), "South", "U").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(int64(3), nil, "D").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	w := writer.NewSQLServerWriter(conn, "")
	require.NoError(t, w.Write(ctx, "Regions", sampleMapping(), sampleRows()))
	require.NoError(t, mock.ExpectationsWereMet())
}
