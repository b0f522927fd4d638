package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the configuration before any run starts. Every problem
// found is reported, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error
	e := c.Replica.Engine

	if err := c.Classifications().Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if e.MaxParallelism == 0 || e.MaxParallelism < -1 {
		result = multierror.Append(result, fmt.Errorf("engine.max_parallelism must be -1 (unbounded) or >= 1, got %d", e.MaxParallelism))
	}
	if d, err := c.TickInterval(); err != nil {
		result = multierror.Append(result, fmt.Errorf("engine.interval: %w", err))
	} else if d <= 0 {
		result = multierror.Append(result, fmt.Errorf("engine.interval must be positive, got %s", d))
	}
	for _, ref := range []struct{ key, name string }{
		{"engine.source_db_ref", e.SourceDBRef},
		{"engine.target_db_ref", e.TargetDBRef},
	} {
		if ref.name == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", ref.key))
			continue
		}
		if _, ok := c.Replica.AdapterConfigs[ref.name]; !ok {
			result = multierror.Append(result, fmt.Errorf("%s refers to unknown connection %q", ref.key, ref.name))
		}
	}
	if c.Replica.Retry.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Replica.Retry.MaxAttempts))
	}
	if c.Replica.Decryption.Enabled && c.Replica.Decryption.KeyID == "" {
		result = multierror.Append(result, fmt.Errorf("decryption.key_id is required when decryption is enabled"))
	}
	return result.ErrorOrNil()
}
