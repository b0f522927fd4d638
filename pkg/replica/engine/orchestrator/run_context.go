package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/tigerroll/replica/pkg/replica/core/config"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// RunContext is the per-process state shared by ticks: the configuration
// snapshot of the current tick and the cached source entity list.
type RunContext struct {
	mu sync.RWMutex

	classifications model.Classifications
	parallelism     int
	dateTimeFormat  string
	keyID           string
	sensitive       func(entity string) []string

	entities []string
}

// NewRunContext creates a RunContext from cfg.
func NewRunContext(cfg *config.Config) (*RunContext, error) {
	rc := &RunContext{}
	if err := rc.Refresh(cfg); err != nil {
		return nil, err
	}
	return rc, nil
}

// Refresh replaces the configuration snapshot. The entity cache is kept.
// An invalid configuration leaves the previous snapshot in place.
func (rc *RunContext) Refresh(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.classifications = cfg.Classifications()
	rc.parallelism = cfg.Replica.Engine.MaxParallelism
	rc.dateTimeFormat = cfg.Replica.Engine.DateTimeFormat
	rc.keyID = cfg.Replica.Decryption.KeyID
	rc.sensitive = cfg.SensitiveFields
	return nil
}

// Classifications returns the table classifications.
func (rc *RunContext) Classifications() model.Classifications {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.classifications
}

// Parallelism returns the fan-out limit; -1 is unbounded.
func (rc *RunContext) Parallelism() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.parallelism
}

// DateTimeFormat returns the layout used to render run windows.
func (rc *RunContext) DateTimeFormat() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.dateTimeFormat
}

// KeyID returns the decryption key identifier.
func (rc *RunContext) KeyID() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.keyID
}

// SensitiveFields returns the columns of entity to decrypt.
func (rc *RunContext) SensitiveFields(entity string) []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.sensitive == nil {
		return nil
	}
	return rc.sensitive(entity)
}

// Entities returns the source tables, listing them on first use only.
func (rc *RunContext) Entities(ctx context.Context, lister EntityLister) ([]string, error) {
	rc.mu.RLock()
	cached := rc.entities
	rc.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	tables, err := lister.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append(make([]string, 0, len(tables)), tables...)
	sort.Strings(sorted)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.entities == nil {
		rc.entities = sorted
	}
	return rc.entities, nil
}
