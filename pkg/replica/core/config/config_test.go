package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/replica/pkg/replica/core/config"
)

const baseYAML = `
replica:
  engine:
    tables:
      full_load: "Accounts,Orders,Countries"
      reference: [Countries]
      transactional: Orders
    max_parallelism: 4
    interval: 30s
  database:
    source:
      type: sqlserver
      host: ${TEST_SOURCE_HOST}
      port: 1433
    target:
      type: postgres
      host: replica-db
`

func TestLayeredSource_EmbeddedYAMLWithExpansion(t *testing.T) {
	t.Setenv("TEST_SOURCE_HOST", "oltp-db")

	cfg, err := config.NewLayeredSource("", "", config.EmbeddedConfig(baseYAML), nil).Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	c := cfg.Classifications()
	assert.True(t, c.IsFullLoad("accounts"))
	assert.True(t, c.IsReference("Countries"))
	assert.True(t, c.IsTransactional("orders"))
	assert.Equal(t, 4, cfg.Replica.Engine.MaxParallelism)

	d, err := cfg.TickInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	src := cfg.Replica.AdapterConfigs["source"].(map[string]interface{})
	assert.Equal(t, "oltp-db", src["host"])
	// defaults survive
	assert.Equal(t, 5, cfg.Replica.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryInterval())
}

func TestLayeredSource_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REPLICA_ENGINE_MAX_PARALLELISM", "-1")
	t.Setenv("REPLICA_ENGINE_TABLES_REFERENCE", "Countries,Currencies")
	t.Setenv("REPLICA_DATABASE_TARGET_PASSWORD", "s3cret")
	t.Setenv("REPLICA_DATABASE_TARGET_POOL__MAX_OPEN_CONNS", "8")

	cfg, err := config.NewLayeredSource("", "", config.EmbeddedConfig(baseYAML), nil).Load()
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Replica.Engine.MaxParallelism)
	assert.True(t, cfg.Classifications().IsReference("currencies"))
	target := cfg.Replica.AdapterConfigs["target"].(map[string]interface{})
	assert.Equal(t, "s3cret", target["password"])
	assert.Equal(t, "replica-db", target["host"])
	assert.Equal(t, "8", target["pool"].(map[string]interface{})["max_open_conns"])
}

func TestLayeredSource_ConfigFileIsReReadOnEveryLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replica:\n  engine:\n    max_parallelism: 2\n"), 0o600))

	src := config.NewLayeredSource("", path, config.EmbeddedConfig(baseYAML), nil)
	cfg, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Replica.Engine.MaxParallelism)

	require.NoError(t, os.WriteFile(path, []byte("replica:\n  engine:\n    max_parallelism: 6\n"), 0o600))
	cfg, err = src.Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Replica.Engine.MaxParallelism)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Replica.Engine.Tables.Reference = "Countries,Orders"
	cfg.Replica.Engine.Tables.Transactional = "orders"
	cfg.Replica.Engine.MaxParallelism = 0
	cfg.Replica.Decryption.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "both reference and transactional")
	assert.Contains(t, msg, "max_parallelism")
	assert.Contains(t, msg, "unknown connection \"source\"")
	assert.Contains(t, msg, "decryption.key_id")
}

func TestTickInterval_FallsBackToMilliseconds(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Replica.Engine.Interval = ""
	cfg.Replica.Engine.IntervalMS = 60000
	d, err := cfg.TickInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestSensitiveFields(t *testing.T) {
	cfg := config.NewConfig()
	assert.Nil(t, cfg.SensitiveFields("Accounts"))

	cfg.Replica.Decryption.Enabled = true
	assert.Equal(t, []string{"EmailAddress", "PhoneNumber"}, cfg.SensitiveFields("accounts"))
	assert.Nil(t, cfg.SensitiveFields("Orders"))
}
