package exception

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
)

// mssqlTransientNumbers are SQL Server / Azure SQL error numbers that indicate
// a lock conflict, a throttled or failing-over server, or a dropped session.
var mssqlTransientNumbers = map[int32]struct{}{
	-2:    {}, // client timeout
	20:    {},
	64:    {}, // connection dropped during login
	233:   {}, // no process on the other end of the pipe
	1205:  {}, // deadlock victim
	1222:  {}, // lock request time out
	4060:  {}, // cannot open database (failover)
	10053: {},
	10054: {},
	10060: {},
	10928: {}, // resource limit
	10929: {}, // resource limit
	40143: {},
	40197: {}, // service error processing request
	40501: {}, // service busy
	40613: {}, // database unavailable
	49918: {},
	49919: {},
	49920: {},
}

// pgTransientCodes are PostgreSQL SQLSTATE codes that are safe to retry.
var pgTransientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57P01": {}, // admin_shutdown
	"53300": {}, // too_many_connections
}

// mysqlTransientNumbers are MySQL server error numbers that are safe to retry.
var mysqlTransientNumbers = map[uint16]struct{}{
	1205: {}, // lock wait timeout
	1213: {}, // deadlock
	2006: {}, // server has gone away
	2013: {}, // lost connection during query
}

// IsTransient reports whether err is a transient data-access fault:
// a lock timeout, a deadlock, or a transient loss of connectivity.
// BatchErrors flagged retryable are transient as well.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}

	var be *BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		if _, ok := mssqlTransientNumbers[msErr.Number]; ok {
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := pgTransientCodes[pgErr.Code]; ok {
			return true
		}
		// class 08: connection exception
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlTransientNumbers[myErr.Number]
		return ok
	}
	if errors.Is(err, gomysql.ErrInvalidConn) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
