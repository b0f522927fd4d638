// Package config provides the configuration of the replication service and
// its layered loader (defaults, embedded YAML, config file, .env, environment).
package config

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// EmbeddedConfig holds the content of the configuration file compiled into the binary.
type EmbeddedConfig []byte

// TableList is a list of table names. In YAML it may be written either as a
// sequence or as a single comma-separated string; env overrides use the latter.
type TableList string

// UnmarshalYAML accepts a scalar or a sequence.
func (l *TableList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = TableList(strings.Join(items, ","))
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*l = TableList(s)
	return nil
}

// Set returns the list as a case-insensitive set.
func (l TableList) Set() model.TableSet {
	return model.ParseTableList(string(l))
}

// TablesConfig classifies the replicated tables.
type TablesConfig struct {
	FullLoad      TableList `yaml:"full_load"`     // Tables copied in historic mode.
	Reference     TableList `yaml:"reference"`     // Tables copied in full on every delta tick.
	Transactional TableList `yaml:"transactional"` // Tables copied incrementally.
}

// EngineConfig holds the load engine settings.
type EngineConfig struct {
	// SourceDBRef is the name of the source connection under replica.database.
	SourceDBRef string `yaml:"source_db_ref"`
	// TargetDBRef is the name of the target connection; it also holds the run history.
	TargetDBRef string `yaml:"target_db_ref"`
	// Tables classifies the replicated tables.
	Tables TablesConfig `yaml:"tables"`
	// MaxParallelism bounds the entity fan-out. -1 is unbounded, 1 is sequential, 0 is invalid.
	MaxParallelism int `yaml:"max_parallelism"`
	// Interval is the tick interval as a Go duration ("5m").
	Interval string `yaml:"interval"`
	// IntervalMS is the tick interval in milliseconds; used when Interval is empty.
	IntervalMS int `yaml:"interval_ms"`
	// DateTimeFormat is the Go time layout used to render run windows.
	DateTimeFormat string `yaml:"datetime_format"`
	// MigrateOnStart applies the run-history migrations before the first tick.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// RetryConfig holds the transient-fault retry settings.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // Attempts including the first.
	IntervalMS  int `yaml:"interval_ms"`  // Fixed delay between attempts.
}

// DecryptionConfig holds the sensitive-field transform settings.
type DecryptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyID   string `yaml:"key_id"`  // Key identifier (certificate thumbprint).
	KeyDir  string `yaml:"key_dir"` // Directory holding <key_id>.pem.
	// Fields lists the encrypted columns per entity.
	Fields map[string][]string `yaml:"fields"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus exporter settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC endpoint (host:port).
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// ReplicaConfig holds all configuration under the "replica" top-level key.
type ReplicaConfig struct {
	Engine     EngineConfig     `yaml:"engine"`
	Retry      RetryConfig      `yaml:"retry"`
	Decryption DecryptionConfig `yaml:"decryption"`
	System     SystemConfig     `yaml:"system"`
	// AdapterConfigs holds the raw database connection settings keyed by connection name.
	// Entries are decoded into dbconfig.DatabaseConfig by the database providers.
	AdapterConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root of the application configuration.
type Config struct {
	Replica ReplicaConfig `yaml:"replica"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Replica: ReplicaConfig{
			Engine: EngineConfig{
				SourceDBRef:    "source",
				TargetDBRef:    "target",
				MaxParallelism: 1,
				Interval:       "5m",
				DateTimeFormat: "2006-01-02 15:04:05",
				MigrateOnStart: true,
			},
			Retry: RetryConfig{
				MaxAttempts: 5,
				IntervalMS:  100,
			},
			Decryption: DecryptionConfig{
				KeyDir: "keys",
				Fields: map[string][]string{
					"Accounts": {"EmailAddress", "PhoneNumber"},
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
				Metrics:  MetricsConfig{Enabled: true, ListenAddress: ":9464"},
				Tracing:  TracingConfig{ServiceName: "replica", SampleRatio: 1},
			},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// Classifications returns the configured table classifications.
func (c *Config) Classifications() model.Classifications {
	t := c.Replica.Engine.Tables
	return model.Classifications{
		FullLoad:      t.FullLoad.Set(),
		Reference:     t.Reference.Set(),
		Transactional: t.Transactional.Set(),
	}
}

// TickInterval returns the scheduling interval. Interval wins over IntervalMS.
func (c *Config) TickInterval() (time.Duration, error) {
	e := c.Replica.Engine
	if e.Interval != "" {
		return time.ParseDuration(e.Interval)
	}
	return time.Duration(e.IntervalMS) * time.Millisecond, nil
}

// RetryInterval returns the fixed retry delay.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Replica.Retry.IntervalMS) * time.Millisecond
}

// SensitiveFields returns the encrypted columns of entity, or nil when
// decryption is disabled or the entity has none.
func (c *Config) SensitiveFields(entity string) []string {
	if !c.Replica.Decryption.Enabled {
		return nil
	}
	for name, cols := range c.Replica.Decryption.Fields {
		if strings.EqualFold(name, entity) {
			return cols
		}
	}
	return nil
}
