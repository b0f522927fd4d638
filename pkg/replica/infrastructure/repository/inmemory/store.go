// Package inmemory provides a LoadStatusStore kept in process memory, used by
// tests and by dry runs of the orchestrator.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
)

// Store is an in-memory repository.LoadStatusStore.
type Store struct {
	mu       sync.Mutex
	runs     []model.LoadRun
	versions repository.VersionSource
	now      func() time.Time
}

// NewStore creates an empty Store.
func NewStore(versions repository.VersionSource) *Store {
	return &Store{versions: versions, now: time.Now}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Seed appends runs as they are, assigning ids to those without one.
func (s *Store) Seed(runs ...model.LoadRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		if r.ID == 0 {
			r.ID = int64(len(s.runs) + 1)
		}
		s.runs = append(s.runs, r)
	}
}

// GetLastRun implements repository.LoadStatusStore.
func (s *Store) GetLastRun(ctx context.Context) (*model.LoadRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	last := s.runs[len(s.runs)-1]
	return &last, nil
}

// CreateRun implements repository.LoadStatusStore.
func (s *Store) CreateRun(ctx context.Context) (*model.LoadRun, error) {
	current, err := s.versions.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *model.LoadRun
	if len(s.runs) > 0 {
		prev = &s.runs[len(s.runs)-1]
		if !prev.Terminal() || prev.Status == model.StatusReady {
			return nil, fmt.Errorf("%w: run %d is %s", repository.ErrRunInProgress, prev.ID, prev.Status)
		}
	}
	next, err := model.NextRun(prev, current, s.now().UTC())
	if err != nil {
		return nil, err
	}
	next.ID = int64(len(s.runs) + 1)
	s.runs = append(s.runs, next)
	return &next, nil
}

func (s *Store) find(runID int64) (*model.LoadRun, error) {
	for i := range s.runs {
		if s.runs[i].ID == runID {
			return &s.runs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", repository.ErrRunNotFound, runID)
}

// CompleteRun implements repository.LoadStatusStore.
func (s *Store) CompleteRun(ctx context.Context, runID int64, status model.LoadStatus, loadType model.LoadType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.find(runID)
	if err != nil {
		return err
	}
	if run.Status != model.StatusPreparing {
		return fmt.Errorf("%w: run %d is %s", repository.ErrRunNotOpen, runID, run.Status)
	}
	run.Status = status
	run.Type = loadType
	run.To = s.now().UTC()
	return nil
}

// TransitionRun implements repository.LoadStatusStore.
func (s *Store) TransitionRun(ctx context.Context, runID int64, from, to model.LoadStatus) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.find(runID)
	if err != nil {
		return err
	}
	if run.Status != from {
		return fmt.Errorf("%w: run %d is not %s", repository.ErrInvalidTransition, runID, from)
	}
	run.Status = to
	return nil
}

// ListRuns implements repository.LoadStatusStore.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.LoadRun, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// Runs returns a copy of the history, oldest first.
func (s *Store) Runs() []model.LoadRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LoadRun(nil), s.runs...)
}

var _ repository.LoadStatusStore = (*Store)(nil)
