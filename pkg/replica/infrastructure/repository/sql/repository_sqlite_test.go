package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/migration"
	sqlrepo "github.com/tigerroll/replica/pkg/replica/infrastructure/repository/sql"
	testutil "github.com/tigerroll/replica/pkg/replica/test"
)

type fixture struct {
	store    *sqlrepo.SQLLoadStatusStore
	versions *testutil.StaticVersionSource
	now      time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func setupStore(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	conn := testutil.NewSQLiteConnection(t, "status")
	require.NoError(t, migration.NewMigrator(conn).Up(ctx))

	f := &fixture{
		versions: &testutil.StaticVersionSource{Version: 100},
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	exec := retry.NewExecutor(retry.NewTransientPolicy(5, 0))
	f.store = sqlrepo.NewSQLLoadStatusStore(testutil.NewTestSingleConnectionResolver(conn), "target", f.versions, exec).
		WithClock(func() time.Time { return f.now })
	return f
}

func TestSQLLoadStatusStore_EmptyHistory(t *testing.T) {
	f := setupStore(t)
	last, err := f.store.GetLastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSQLLoadStatusStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := setupStore(t)
	start := f.now

	// Cold start: historic with no baseline.
	first, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, model.TypeHistoric, first.Type)
	assert.Equal(t, model.StatusPreparing, first.Status)
	assert.Equal(t, model.NoBaseline, first.FirstVersion)
	assert.Equal(t, model.ChangeMarker(100), first.LastVersion)

	// Only one Preparing run at a time.
	_, err = f.store.CreateRun(ctx)
	assert.True(t, errors.Is(err, repository.ErrRunInProgress))

	f.advance(time.Minute)
	require.NoError(t, f.store.CompleteRun(ctx, first.ID, model.StatusReady, model.TypeHistoric))

	last, err := f.store.GetLastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, last.Status)
	assert.Equal(t, model.ChangeMarker(100), last.LastVersion, "completion keeps the recorded marker")
	assert.True(t, last.To.Equal(start.Add(time.Minute)))

	// Ready must be acknowledged before the next run.
	_, err = f.store.CreateRun(ctx)
	assert.True(t, errors.Is(err, repository.ErrRunInProgress))

	require.NoError(t, f.store.TransitionRun(ctx, first.ID, model.StatusReady, model.StatusSuccessful))

	// After Successful the next run starts at the previous last marker.
	f.versions.Set(150)
	f.advance(time.Minute)
	second, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TypeDelta, second.Type)
	assert.Equal(t, model.ChangeMarker(100), second.FirstVersion)
	assert.Equal(t, model.ChangeMarker(150), second.LastVersion)
	assert.True(t, second.From.Equal(start.Add(time.Minute)))

	require.NoError(t, f.store.CompleteRun(ctx, second.ID, model.StatusFailed, model.TypeDelta))
	require.NoError(t, f.store.TransitionRun(ctx, second.ID, model.StatusFailed, model.StatusBackTrack))

	// After BackTrack the next run replays from the failed run's first marker.
	f.versions.Set(175)
	third, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeMarker(100), third.FirstVersion)
	assert.Equal(t, model.ChangeMarker(175), third.LastVersion)
	assert.True(t, third.From.Equal(second.From))

	runs, err := f.store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, third.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
	assert.Equal(t, model.StatusBackTrack, runs[1].Status)
}

func TestSQLLoadStatusStore_TransitionErrors(t *testing.T) {
	ctx := context.Background()
	f := setupStore(t)

	run, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteRun(ctx, run.ID, model.StatusFailed, model.TypeHistoric))

	err = f.store.TransitionRun(ctx, run.ID, model.StatusReady, model.StatusSuccessful)
	assert.True(t, errors.Is(err, repository.ErrInvalidTransition), "run is Failed, not Ready")

	err = f.store.TransitionRun(ctx, 42, model.StatusFailed, model.StatusBackTrack)
	assert.True(t, errors.Is(err, repository.ErrRunNotFound))

	err = f.store.TransitionRun(ctx, run.ID, model.StatusFailed, model.StatusReady)
	assert.True(t, errors.Is(err, repository.ErrInvalidTransition), "Failed -> Ready is not an operator transition")

	require.NoError(t, f.store.TransitionRun(ctx, run.ID, model.StatusFailed, model.StatusInitialize))

	// Initialize forces a cold start.
	next, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TypeHistoric, next.Type)
	assert.Equal(t, model.NoBaseline, next.FirstVersion)
}

func TestSQLLoadStatusStore_CompleteUnknownRun(t *testing.T) {
	f := setupStore(t)
	err := f.store.CompleteRun(context.Background(), 7, model.StatusReady, model.TypeDelta)
	assert.True(t, errors.Is(err, repository.ErrRunNotFound))
}

func TestSQLLoadStatusStore_VersionSourceFailure(t *testing.T) {
	f := setupStore(t)
	f.versions.Err = errors.New("source unreachable")

	_, err := f.store.CreateRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unreachable")

	last, err := f.store.GetLastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last, "no row is written when the version cannot be read")
}

func TestSQLLoadStatusStore_CompleteOnlyOpenRun(t *testing.T) {
	ctx := context.Background()
	f := setupStore(t)

	run, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteRun(ctx, run.ID, model.StatusReady, model.TypeHistoric))

	err = f.store.CompleteRun(ctx, run.ID, model.StatusFailed, model.TypeDelta)
	assert.True(t, errors.Is(err, repository.ErrRunNotOpen))

	last, err := f.store.GetLastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, last.Status, "a closed run keeps its status")
	assert.Equal(t, model.TypeHistoric, last.Type)
}

func TestSQLLoadStatusStore_AbandonCrashedRun(t *testing.T) {
	ctx := context.Background()
	f := setupStore(t)

	first, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteRun(ctx, first.ID, model.StatusReady, model.TypeHistoric))
	require.NoError(t, f.store.TransitionRun(ctx, first.ID, model.StatusReady, model.StatusSuccessful))

	// The process dies while this run is Preparing.
	f.versions.Set(140)
	crashed, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	_, err = f.store.CreateRun(ctx)
	require.True(t, errors.Is(err, repository.ErrRunInProgress))

	require.NoError(t, f.store.TransitionRun(ctx, crashed.ID, model.StatusPreparing, model.StatusFailed))
	require.NoError(t, f.store.TransitionRun(ctx, crashed.ID, model.StatusFailed, model.StatusBackTrack))

	f.versions.Set(160)
	replay, err := f.store.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, crashed.FirstVersion, replay.FirstVersion, "the abandoned window is replayed")
	assert.Equal(t, model.ChangeMarker(160), replay.LastVersion)
}
