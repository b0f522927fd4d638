// Package config holds the database connection settings decoded from the
// replica.database section.
package config

import "github.com/mitchellh/mapstructure"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // "sqlserver", "postgres", "mysql" or "sqlite".
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // Database name, or file path for sqlite.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema,omitempty"` // Schema for sqlserver ("dbo") and postgres ("public").
	Sslmode  string `yaml:"sslmode"`          // postgres sslmode; sqlserver "encrypt" value.
	// DSN, when set, is used verbatim instead of building one from the fields above.
	DSN string `yaml:"dsn,omitempty"`
	// AppName is reported to the server (sqlserver "app name", postgres application_name).
	AppName string     `yaml:"app_name,omitempty"`
	Pool    PoolConfig `yaml:"pool"`
}

// SchemaOrDefault returns Schema, or the dialect's default schema.
func (c DatabaseConfig) SchemaOrDefault() string {
	if c.Schema != "" {
		return c.Schema
	}
	switch c.Type {
	case "sqlserver":
		return "dbo"
	case "postgres":
		return "public"
	}
	return ""
}

// Decode decodes one raw replica.database entry. Keys follow the yaml tags and
// scalar values are converted weakly, so env overrides such as "5432" decode
// into int fields.
func Decode(raw interface{}) (DatabaseConfig, error) {
	var c DatabaseConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return c, err
	}
	if err := decoder.Decode(raw); err != nil {
		return c, err
	}
	return c, nil
}
