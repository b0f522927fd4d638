package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/replica/pkg/replica/engine/retry"
	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
)

func noSleep(delays *[]time.Duration) retry.Option {
	return retry.WithSleeper(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

var deadlock = mssql.Error{Number: 1205, Message: "Transaction was deadlocked"}

func TestExecutor_FourTransientFailuresThenSuccess(t *testing.T) {
	var delays []time.Duration
	exec := retry.NewExecutor(retry.DefaultPolicy(), noSleep(&delays))

	attempts := 0
	err := exec.Do(context.Background(), "bulk copy Orders", func(context.Context) error {
		attempts++
		if attempts < 5 {
			return deadlock
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}, delays)
}

func TestExecutor_FiveTransientFailuresSurfaceLastCause(t *testing.T) {
	var delays []time.Duration
	var observed []int
	exec := retry.NewExecutor(retry.DefaultPolicy(), noSleep(&delays), retry.WithObserver(func(_ string, attempt int, _ error) {
		observed = append(observed, attempt)
	}))

	attempts := 0
	err := exec.Do(context.Background(), "bulk copy Orders", func(context.Context) error {
		attempts++
		return mssql.Error{Number: 1205, Message: "deadlock on attempt"}
	})

	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Len(t, delays, 4)
	assert.Equal(t, []int{1, 2, 3, 4}, observed)

	var exhausted *exception.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	var last mssql.Error
	require.ErrorAs(t, err, &last)
	assert.Equal(t, int32(1205), last.Number)
	assert.True(t, exception.IsFatal(err))
}

func TestExecutor_NonTransientFailsImmediately(t *testing.T) {
	var delays []time.Duration
	exec := retry.NewExecutor(retry.DefaultPolicy(), noSleep(&delays))
	cause := mssql.Error{Number: 208, Message: "Invalid object name 'Nope'"}

	attempts := 0
	err := exec.Do(context.Background(), "truncate Nope", func(context.Context) error {
		attempts++
		return cause
	})

	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
	assert.Equal(t, cause, err)
}

func TestValue_ReturnsResultAfterRetry(t *testing.T) {
	var delays []time.Duration
	exec := retry.NewExecutor(retry.NewTransientPolicy(3, 10*time.Millisecond), noSleep(&delays))

	calls := 0
	v, err := retry.Value(context.Background(), exec, "current version", func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, exception.NewBatchError("source", "flaky", errors.New("reset"), true)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, delays)
}
