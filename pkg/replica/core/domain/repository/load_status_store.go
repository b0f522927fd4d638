// Package repository defines the persistence ports of the replication engine.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("load run not found")
	// ErrRunInProgress is returned by CreateRun when the last run is not closed.
	ErrRunInProgress = errors.New("a load run is still open")
	// ErrRunNotOpen is returned by CompleteRun when the run is no longer Preparing.
	ErrRunNotOpen = errors.New("load run is not open")
	// ErrInvalidTransition is returned by TransitionRun when the run is not in the expected status.
	ErrInvalidTransition = errors.New("invalid load status transition")
)

// VersionSource reads the source database's current change-tracking version.
type VersionSource interface {
	CurrentVersion(ctx context.Context) (model.ChangeMarker, error)
}

// LoadStatusStore persists the append-only run history.
type LoadStatusStore interface {
	// GetLastRun returns the run with the highest id, or nil when there is none.
	GetLastRun(ctx context.Context) (*model.LoadRun, error)
	// CreateRun inserts a Preparing run whose marker range follows the last run.
	CreateRun(ctx context.Context) (*model.LoadRun, error)
	// CompleteRun closes a Preparing run with its final status and type.
	CompleteRun(ctx context.Context, runID int64, status model.LoadStatus, loadType model.LoadType) error
	// TransitionRun moves a run between statuses on operator request.
	TransitionRun(ctx context.Context, runID int64, from, to model.LoadStatus) error
	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error)
}
