package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

const moduleName = "config"

// ConfigFileEnv names the environment variable that points at an on-disk
// YAML file layered over the embedded configuration.
const ConfigFileEnv = "REPLICA_CONFIG_FILE"

// Source produces a fresh Config. The orchestrator calls Load at the start of
// every tick so that table lists and parallelism can change without a restart.
type Source interface {
	Load() (*Config, error)
}

// LayeredSource loads configuration from, in order of increasing precedence:
// defaults, the embedded YAML, the optional config file, and environment
// variables (after loading the optional .env file).
type LayeredSource struct {
	envFilePath string
	filePath    string
	embedded    EmbeddedConfig
	expander    EnvironmentExpander
}

// NewLayeredSource creates a LayeredSource. An empty filePath falls back to $REPLICA_CONFIG_FILE.
func NewLayeredSource(envFilePath, filePath string, embedded EmbeddedConfig, expander EnvironmentExpander) *LayeredSource {
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	return &LayeredSource{envFilePath: envFilePath, filePath: filePath, embedded: embedded, expander: expander}
}

// Load implements Source.
func (s *LayeredSource) Load() (*Config, error) {
	if s.envFilePath != "" {
		if err := godotenv.Load(s.envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", s.envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	if len(s.embedded) > 0 {
		if err := s.decodeLayer(cfg, s.embedded); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false)
		}
	}

	path := s.filePath
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exception.NewBatchErrorf(moduleName, "failed to read config file %s", path, err)
		}
		if err := s.decodeLayer(cfg, data); err != nil {
			return nil, exception.NewBatchErrorf(moduleName, "failed to unmarshal config file %s", path, err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false)
	}
	return cfg, nil
}

// decodeLayer expands placeholders and unmarshals data over cfg. Keys absent
// from data keep their current values; maps are merged key by key.
func (s *LayeredSource) decodeLayer(cfg *Config, data []byte) error {
	expanded, err := s.expander.Expand(data)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

// LoadConfig loads and validates configuration once. It is used by the CLI
// entry point before the fx graph is built.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	cfg, err := NewLayeredSource(envFilePath, "", embedded, nil).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false)
	}
	return cfg, nil
}

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
	ConfigFilePath string `name:"configFilePath" optional:"true"`
	Expander       EnvironmentExpander
}

// ConfigResult is the output of NewConfigProvider.
type ConfigResult struct {
	fx.Out
	Config *Config
	Source Source
}

// NewConfigProvider loads the initial configuration, validates it and sets the
// global log level. It also provides the Source used for per-tick reloads.
func NewConfigProvider(params ConfigParams) (ConfigResult, error) {
	src := NewLayeredSource(params.EnvFilePath, params.ConfigFilePath, params.EmbeddedConfig, params.Expander)
	cfg, err := src.Load()
	if err != nil {
		return ConfigResult{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ConfigResult{}, exception.NewBatchError(moduleName, "invalid configuration", err, false)
	}
	logger.SetLogLevel(cfg.Replica.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Replica.System.Logging.Level)
	return ConfigResult{Config: cfg, Source: src}, nil
}

// loadStructFromEnv recursively overrides struct fields from environment
// variables named after their yaml tag path, e.g. REPLICA_ENGINE_MAX_PARALLELISM.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch field.Kind() {
		case reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case reflect.Map:
			if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface {
				loadRawMapFromEnv(field, envVarName+"_")
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadRawMapFromEnv overrides entries of a map[string]interface{} holding
// per-connection settings. REPLICA_DATABASE_TARGET_HOST=db1 sets
// database["target"]["host"] = "db1". The connection name is the first
// underscore-separated segment, so connection names must not contain "_".
func loadRawMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(kv) != 2 {
			continue
		}
		parts := strings.SplitN(kv[0], "_", 2)
		if len(parts) != 2 {
			continue
		}
		name, key := strings.ToLower(parts[0]), strings.ToLower(parts[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		setNested(entry, strings.Split(key, "__"), kv[1])
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

// setNested sets path in m, creating intermediate maps. A double underscore in
// the variable name separates nesting levels (POOL__MAX_OPEN_CONNS).
func setNested(m map[string]interface{}, path []string, value string) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// setField sets a scalar or string-slice field from its string form.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			out = reflect.Append(out, reflect.ValueOf(strings.TrimSpace(p)))
		}
		field.Set(out)
	}
	return nil
}
