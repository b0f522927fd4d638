package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/orchestrator"
	"github.com/tigerroll/replica/pkg/replica/engine/scheduler"
)

type countingTicker struct {
	calls  atomic.Int32
	err    error
	cancel context.CancelFunc
	after  int32
	sawCtx atomic.Bool
}

func (c *countingTicker) Tick(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.TickResult, error) {
	n := c.calls.Add(1)
	if n == c.after && c.cancel != nil {
		c.cancel()
		if ctx.Err() == nil {
			c.sawCtx.Store(true)
		}
	}
	if c.err != nil {
		return orchestrator.TickResult{}, c.err
	}
	return orchestrator.TickResult{Run: &model.LoadRun{ID: int64(n)}}, nil
}

func TestRun_StopsAtTickBoundaryAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := &countingTicker{cancel: cancel, after: 3}
	s := scheduler.NewScheduler(tk, nil, time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(3), tk.calls.Load())
	assert.True(t, tk.sawCtx.Load(), "the tick in flight is not cancelled")
}

func TestRun_SurvivesTickErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := &countingTicker{err: errors.New("source unreachable"), cancel: cancel, after: 2}
	s := scheduler.NewScheduler(tk, nil, time.Millisecond, nil)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(2), tk.calls.Load())
}

func TestRunOnce_ReturnsTickResult(t *testing.T) {
	tk := &countingTicker{}
	s := scheduler.NewScheduler(tk, nil, time.Minute, nil)
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Run.ID)
}

// slowTicker takes longer than the scheduler interval and records when each
// tick starts and ends.
type slowTicker struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
	work   time.Duration
	limit  int
	cancel context.CancelFunc
}

func (s *slowTicker) Tick(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.TickResult, error) {
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()

	time.Sleep(s.work)

	s.mu.Lock()
	s.ends = append(s.ends, time.Now())
	n := len(s.ends)
	s.mu.Unlock()
	if n == s.limit {
		s.cancel()
	}
	return orchestrator.TickResult{Skipped: true}, nil
}

func TestRun_WaitsFullIntervalAfterSlowTick(t *testing.T) {
	const interval = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	tk := &slowTicker{work: 250 * time.Millisecond, limit: 3, cancel: cancel}
	s := scheduler.NewScheduler(tk, nil, interval, nil)

	require.NoError(t, s.Run(ctx))

	tk.mu.Lock()
	defer tk.mu.Unlock()
	require.Len(t, tk.starts, 3)
	for i := 1; i < len(tk.starts); i++ {
		gap := tk.starts[i].Sub(tk.ends[i-1])
		assert.GreaterOrEqual(t, gap, interval, "rest before tick %d", i+1)
	}
}

type panickingTicker struct {
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (p *panickingTicker) Tick(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.TickResult, error) {
	if p.calls.Add(1) == 1 {
		panic("store exploded")
	}
	p.cancel()
	return orchestrator.TickResult{Skipped: true}, nil
}

func TestRunOnce_RecoversPanicAsError(t *testing.T) {
	tk := &panickingTicker{cancel: func() {}}
	s := scheduler.NewScheduler(tk, nil, time.Minute, nil)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store exploded")
}

func TestRun_SurvivesPanickingTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := &panickingTicker{cancel: cancel}
	s := scheduler.NewScheduler(tk, nil, time.Millisecond, nil)

	require.NotPanics(t, func() { require.NoError(t, s.Run(ctx)) })
	assert.Equal(t, int32(2), tk.calls.Load())
}
