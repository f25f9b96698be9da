package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/botflow/internal/telemetry"
	"github.com/BaSui01/botflow/session"
)

// Config is the complete botflow configuration.
type Config struct {
	// Dialog configures the flow execution engine.
	Dialog DialogConfig `yaml:"dialog" env:"DIALOG"`

	// Decision configures suggestion election.
	Decision DecisionConfig `yaml:"decision" env:"DECISION"`

	// Janitor configures the session sweep.
	Janitor JanitorConfig `yaml:"janitor" env:"JANITOR"`

	// Session configures the session store backend.
	Session session.StoreConfig `yaml:"session" env:"SESSION"`

	// Redis is the shared client used for flow invalidation broadcast
	// and distributed locks.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Flows configures flow definition storage.
	Flows FlowsConfig `yaml:"flows" env:"FLOWS"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures the metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry configures trace export.
	Telemetry telemetry.Config `yaml:"telemetry" env:"TELEMETRY"`
}

// DialogConfig configures the dialog engine.
type DialogConfig struct {
	// ContextTTL is how long a dialog context may sit idle before the
	// janitor drives it through timeout handling.
	ContextTTL time.Duration `yaml:"context_ttl" env:"CONTEXT_TTL"`

	// SessionTTL is how long a whole session lives without activity.
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`

	// GuardTimeout bounds one sandboxed guard evaluation.
	GuardTimeout time.Duration `yaml:"guard_timeout" env:"GUARD_TIMEOUT"`
}

// DecisionConfig configures suggestion election.
type DecisionConfig struct {
	// MinConfidence is the election threshold, in [0, 1].
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`

	// NoRepeatCooldown is the window within which the same reply source
	// is not elected twice.
	NoRepeatCooldown time.Duration `yaml:"no_repeat_cooldown" env:"NO_REPEAT_COOLDOWN"`

	// NoRepeatEnabled toggles the no-repeat policy.
	NoRepeatEnabled bool `yaml:"no_repeat_enabled" env:"NO_REPEAT_ENABLED"`
}

// JanitorConfig configures the session sweep.
type JanitorConfig struct {
	// Interval between sweeps; also the TTL of the per-session locks.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`

	// BatchSize caps stale contexts handled per sweep.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`

	// Enabled turns on the Redis-backed broadcaster and lock manager;
	// without it both fall back to in-process implementations.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// FlowsConfig configures flow definition storage.
type FlowsConfig struct {
	// Root is the directory holding one subdirectory of flow files per
	// bot.
	Root string `yaml:"root" env:"ROOT"`

	// OneFlow lists bot ids operating in single-flow mode, where parent
	// relationships are synthesized from flow names.
	OneFlow []string `yaml:"one_flow" env:"ONE_FLOW"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a config loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "BOTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an extra validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration. Precedence: defaults, YAML file,
// environment variables. The result is always validated.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			// Embedded configs without an env tag still get a section
			// named after the field.
			if field.Kind() != reflect.Struct {
				continue
			}
			envTag = strings.ToUpper(fieldType.Name)
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks invariants. It runs once at startup; malformed
// values fail here instead of being coerced mid-turn.
func (c *Config) Validate() error {
	var errs []string

	if c.Decision.MinConfidence < 0 || c.Decision.MinConfidence > 1 {
		errs = append(errs, "decision.min_confidence must be between 0 and 1")
	}
	if c.Decision.NoRepeatCooldown < 0 {
		errs = append(errs, "decision.no_repeat_cooldown must not be negative")
	}
	if c.Janitor.Interval <= 0 {
		errs = append(errs, "janitor.interval must be positive")
	}
	if c.Janitor.BatchSize <= 0 {
		errs = append(errs, "janitor.batch_size must be positive")
	}
	if c.Dialog.ContextTTL <= 0 {
		errs = append(errs, "dialog.context_ttl must be positive")
	}
	if c.Dialog.SessionTTL <= 0 {
		errs = append(errs, "dialog.session_ttl must be positive")
	}
	if c.Dialog.SessionTTL < c.Dialog.ContextTTL {
		errs = append(errs, "dialog.session_ttl must not be shorter than dialog.context_ttl")
	}
	if c.Dialog.GuardTimeout <= 0 {
		errs = append(errs, "dialog.guard_timeout must be positive")
	}
	if c.Flows.Root == "" {
		errs = append(errs, "flows.root is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// OneFlowFunc returns the per-bot single-flow-mode predicate.
func (c *Config) OneFlowFunc() func(botID string) bool {
	set := make(map[string]struct{}, len(c.Flows.OneFlow))
	for _, id := range c.Flows.OneFlow {
		set[id] = struct{}{}
	}
	return func(botID string) bool {
		_, ok := set[botID]
		return ok
	}
}
