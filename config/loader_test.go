package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.Dialog.ContextTTL)
	assert.Equal(t, 0.5, cfg.Decision.MinConfidence)
	assert.Equal(t, 250, cfg.Janitor.BatchSize)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "botflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
dialog:
  context_ttl: 2m
  guard_timeout: 250ms
decision:
  min_confidence: 0.7
  no_repeat_enabled: true
flows:
  root: /var/lib/bots
  one_flow: [bot1, bot2]
log:
  level: debug
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Dialog.ContextTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Dialog.GuardTimeout)
	assert.Equal(t, 0.7, cfg.Decision.MinConfidence)
	assert.True(t, cfg.Decision.NoRepeatEnabled)
	assert.Equal(t, "/var/lib/bots", cfg.Flows.Root)
	assert.Equal(t, []string{"bot1", "bot2"}, cfg.Flows.OneFlow)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Dialog.SessionTTL)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := writeConfigFile(t, "dialog: [not a mapping")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := writeConfigFile(t, `
decision:
  min_confidence: 0.7
`)

	t.Setenv("BOTFLOW_DECISION_MIN_CONFIDENCE", "0.9")
	t.Setenv("BOTFLOW_DIALOG_CONTEXT_TTL", "90s")
	t.Setenv("BOTFLOW_FLOWS_ONE_FLOW", "bot1, bot2,bot3")
	t.Setenv("BOTFLOW_REDIS_ENABLED", "true")
	t.Setenv("BOTFLOW_JANITOR_BATCH_SIZE", "50")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Decision.MinConfidence)
	assert.Equal(t, 90*time.Second, cfg.Dialog.ContextTTL)
	assert.Equal(t, []string{"bot1", "bot2", "bot3"}, cfg.Flows.OneFlow)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 50, cfg.Janitor.BatchSize)
}

func TestEnvNestedSectionOverride(t *testing.T) {
	t.Setenv("BOTFLOW_TELEMETRY_SERVICE_NAME", "botflow-test")
	t.Setenv("BOTFLOW_METRICS_NAMESPACE", "botflow_test")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "botflow-test", cfg.Telemetry.ServiceName)
	assert.Equal(t, "botflow_test", cfg.Metrics.Namespace)
}

func TestEnvPrefixIsConfigurable(t *testing.T) {
	t.Setenv("MYAPP_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvBadValueFails(t *testing.T) {
	t.Setenv("BOTFLOW_DIALOG_CONTEXT_TTL", "not-a-duration")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOTFLOW_DIALOG_CONTEXT_TTL")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Decision.MinConfidence = 1.5 },
			wantErr: "decision.min_confidence must be between 0 and 1",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Decision.NoRepeatCooldown = -time.Second },
			wantErr: "decision.no_repeat_cooldown must not be negative",
		},
		{
			name:    "zero janitor interval",
			mutate:  func(c *Config) { c.Janitor.Interval = 0 },
			wantErr: "janitor.interval must be positive",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Janitor.BatchSize = 0 },
			wantErr: "janitor.batch_size must be positive",
		},
		{
			name:    "session shorter than context",
			mutate:  func(c *Config) { c.Dialog.SessionTTL = time.Minute },
			wantErr: "dialog.session_ttl must not be shorter than dialog.context_ttl",
		},
		{
			name:    "zero guard timeout",
			mutate:  func(c *Config) { c.Dialog.GuardTimeout = 0 },
			wantErr: "dialog.guard_timeout must be positive",
		},
		{
			name:    "missing flows root",
			mutate:  func(c *Config) { c.Flows.Root = "" },
			wantErr: "flows.root is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level must be one of debug, info, warn, error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if !c.Redis.Enabled {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestOneFlowFunc(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flows.OneFlow = []string{"bot1"}

	oneFlow := cfg.OneFlowFunc()
	assert.True(t, oneFlow("bot1"))
	assert.False(t, oneFlow("bot2"))
}

func TestMustLoadPanicsOnInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: verbose\n")
	assert.Panics(t, func() { MustLoad(path) })
}
