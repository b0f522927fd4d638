package exception_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
)

func TestBatchError_FormatAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := exception.NewBatchError("writer", "bulk copy failed", cause, false)

	assert.Equal(t, "[writer] bulk copy failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsRetryable())
	assert.NotEmpty(t, err.StackTrace)

	noCause := exception.NewBatchError("config", "invalid", nil, false)
	assert.Equal(t, "[config] invalid", noCause.Error())
}

func TestNewBatchErrorf_ExtractsTrailingError(t *testing.T) {
	cause := errors.New("table locked")
	err := exception.NewBatchErrorf("target", "failed to truncate %s", "Orders", cause)

	assert.Equal(t, "failed to truncate Orders", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to truncate Orders", exception.ExtractErrorMessage(fmt.Errorf("wrapped: %w", err)))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("syntax error"), false},
		{"canceled", context.Canceled, false},
		{"mssql deadlock", mssql.Error{Number: 1205, Message: "deadlock victim"}, true},
		{"mssql lock timeout", fmt.Errorf("exec: %w", mssql.Error{Number: 1222}), true},
		{"mssql invalid object", mssql.Error{Number: 208, Message: "Invalid object name"}, false},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"mysql deadlock", &gomysql.MySQLError{Number: 1213}, true},
		{"mysql syntax", &gomysql.MySQLError{Number: 1064}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"retryable batch error", exception.NewBatchError("source", "flaky", nil, true), true},
		{"non-retryable batch error", exception.NewBatchError("source", "broken", errors.New("x"), false), false},
		{"exhausted", &exception.RetryExhaustedError{Operation: "op", Attempts: 5, LastErr: mssql.Error{Number: 1205}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exception.IsTransient(tc.err))
		})
	}
}

func TestRetryExhaustedError_IsFatalAndCarriesCause(t *testing.T) {
	last := mssql.Error{Number: 1205, Message: "deadlock victim"}
	err := &exception.RetryExhaustedError{Operation: "bulk copy Orders", Attempts: 5, LastErr: last}

	assert.True(t, exception.IsFatal(err))
	var msErr mssql.Error
	assert.True(t, errors.As(err, &msErr))
	assert.Equal(t, int32(1205), msErr.Number)
	assert.Contains(t, err.Error(), "giving up after 5 attempts")
}
