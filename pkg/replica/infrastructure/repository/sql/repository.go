// Package sql implements the run-history store on the target database.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// SQLLoadStatusStore implements repository.LoadStatusStore on the LoadStatusLog table.
type SQLLoadStatusStore struct {
	dbResolver database.DBConnectionResolver
	dbName     string // connection holding LoadStatusLog, normally the target
	versions   repository.VersionSource
	retry      *retry.Executor
	now        func() time.Time
}

// NewSQLLoadStatusStore creates a store on the named connection.
func NewSQLLoadStatusStore(
	dbResolver database.DBConnectionResolver,
	dbName string,
	versions repository.VersionSource,
	retryExecutor *retry.Executor,
) *SQLLoadStatusStore {
	if retryExecutor == nil {
		retryExecutor = retry.NewExecutor(nil)
	}
	return &SQLLoadStatusStore{
		dbResolver: dbResolver,
		dbName:     dbName,
		versions:   versions,
		retry:      retryExecutor,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *SQLLoadStatusStore) WithClock(now func() time.Time) *SQLLoadStatusStore {
	r.now = now
	return r
}

func (r *SQLLoadStatusStore) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLLoadStatusStore", fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, true)
	}
	return conn, nil
}

func (r *SQLLoadStatusStore) wrap(op, message string, conn database.DBConnection, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrRunNotFound) || errors.Is(err, repository.ErrRunInProgress) || errors.Is(err, repository.ErrRunNotOpen) || errors.Is(err, repository.ErrInvalidTransition) {
		return err
	}
	if conn != nil && conn.IsTableNotExistError(err) {
		return exception.NewBatchError(op, "LoadStatusLog does not exist; run 'replica migrate'", err, false)
	}
	return exception.NewBatchError(op, message, err, exception.IsTransient(err))
}

func lastRun(ctx context.Context, exec database.DBExecutor) (*model.LoadRun, error) {
	var rows []LoadStatusLogEntity
	if err := exec.ExecuteQueryAdvanced(ctx, &rows, nil, colLoadID+" desc", 1); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toDomainLoadRun(&rows[0])
}

// GetLastRun returns the run with the highest LoadId, or nil when the history is empty.
func (r *SQLLoadStatusStore) GetLastRun(ctx context.Context) (*model.LoadRun, error) {
	const op = "SQLLoadStatusStore.GetLastRun"
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	run, err := retry.Value(ctx, r.retry, op, func(ctx context.Context) (*model.LoadRun, error) {
		return lastRun(ctx, conn)
	})
	if err != nil {
		return nil, r.wrap(op, "failed to read the last load run", conn, err)
	}
	return run, nil
}

// CreateRun reads the source's current version and inserts the next Preparing
// run. Reading the previous run and inserting happen in one transaction.
func (r *SQLLoadStatusStore) CreateRun(ctx context.Context) (*model.LoadRun, error) {
	const op = "SQLLoadStatusStore.CreateRun"
	current, err := retry.Value(ctx, r.retry, op+".CurrentVersion", r.versions.CurrentVersion)
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to read the source change-tracking version", err, false)
	}

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var created *model.LoadRun
	err = r.retry.Do(ctx, op, func(ctx context.Context) error {
		return conn.Transaction(ctx, func(tx database.DBExecutor) error {
			prev, err := lastRun(ctx, tx)
			if err != nil {
				return err
			}
			if prev != nil && !prev.Terminal() {
				return fmt.Errorf("%w: run %d is %s", repository.ErrRunInProgress, prev.ID, prev.Status)
			}
			if prev != nil && prev.Status == model.StatusReady {
				return fmt.Errorf("%w: run %d is %s and has not been acknowledged", repository.ErrRunInProgress, prev.ID, prev.Status)
			}
			next, err := model.NextRun(prev, current, r.now().UTC())
			if err != nil {
				return err
			}
			entity := fromDomainLoadRun(&next)
			if _, err := tx.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
				return err
			}
			next.ID = entity.LoadID
			created = &next
			return nil
		})
	})
	if err != nil {
		return nil, r.wrap(op, "failed to create load run", conn, err)
	}
	logger.Infof("Created load run %d (%s, markers %d..%d).", created.ID, created.Type, created.FirstVersion, created.LastVersion)
	return created, nil
}

// CompleteRun closes a Preparing run with its final status and type and stamps
// the window end. The run's markers are left as recorded at creation. A run
// that is already closed is left untouched and ErrRunNotOpen is returned.
func (r *SQLLoadStatusStore) CompleteRun(ctx context.Context, runID int64, status model.LoadStatus, loadType model.LoadType) error {
	const op = "SQLLoadStatusStore.CompleteRun"
	if !status.Valid() {
		return exception.NewBatchErrorf(op, "invalid status %s for run %d", status, runID)
	}
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	values := map[string]interface{}{
		colStatusCode: status.Code(),
		colTypeCode:   loadType.Code(),
		colTo:         r.now().UTC(),
	}
	err = r.retry.Do(ctx, op, func(ctx context.Context) error {
		affected, err := conn.ExecuteUpdate(ctx, values, "UPDATE", LoadStatusLogEntity{}.TableName(),
			map[string]interface{}{colLoadID: runID, colStatusCode: model.StatusPreparing.Code()})
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		n, err := conn.Count(ctx, &LoadStatusLogEntity{}, map[string]interface{}{colLoadID: runID})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", repository.ErrRunNotFound, runID)
		}
		return fmt.Errorf("%w: %d", repository.ErrRunNotOpen, runID)
	})
	return r.wrap(op, fmt.Sprintf("failed to complete load run %d", runID), conn, err)
}

// TransitionRun moves a run from one status to another on operator request.
// The update is conditional on the current status, so concurrent operators
// cannot both succeed.
func (r *SQLLoadStatusStore) TransitionRun(ctx context.Context, runID int64, from, to model.LoadStatus) error {
	const op = "SQLLoadStatusStore.TransitionRun"
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	table := LoadStatusLogEntity{}.TableName()
	err = r.retry.Do(ctx, op, func(ctx context.Context) error {
		affected, err := conn.ExecuteUpdate(ctx,
			map[string]interface{}{colStatusCode: to.Code()},
			"UPDATE", table,
			map[string]interface{}{colLoadID: runID, colStatusCode: from.Code()})
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		n, err := conn.Count(ctx, &LoadStatusLogEntity{}, map[string]interface{}{colLoadID: runID})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", repository.ErrRunNotFound, runID)
		}
		return fmt.Errorf("%w: run %d is not %s", repository.ErrInvalidTransition, runID, from)
	})
	if err != nil {
		return r.wrap(op, fmt.Sprintf("failed to move run %d to %s", runID, to), conn, err)
	}
	logger.Infof("Load run %d moved from %s to %s.", runID, from, to)
	return nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit returns all runs.
func (r *SQLLoadStatusStore) ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	const op = "SQLLoadStatusStore.ListRuns"
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var rows []LoadStatusLogEntity
	err = r.retry.Do(ctx, op, func(ctx context.Context) error {
		rows = rows[:0]
		return conn.ExecuteQueryAdvanced(ctx, &rows, nil, colLoadID+" desc", limit)
	})
	if err != nil {
		return nil, r.wrap(op, "failed to list load runs", conn, err)
	}
	runs := make([]model.LoadRun, 0, len(rows))
	for i := range rows {
		run, err := toDomainLoadRun(&rows[i])
		if err != nil {
			return nil, exception.NewBatchError(op, "corrupt run history row", err, false)
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

var _ repository.LoadStatusStore = (*SQLLoadStatusStore)(nil)
