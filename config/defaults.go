package config

import (
	"time"

	"github.com/BaSui01/botflow/internal/telemetry"
	"github.com/BaSui01/botflow/session"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dialog:    DefaultDialogConfig(),
		Decision:  DefaultDecisionConfig(),
		Janitor:   DefaultJanitorConfig(),
		Session:   session.DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Flows:     DefaultFlowsConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultDialogConfig returns the default dialog engine configuration.
func DefaultDialogConfig() DialogConfig {
	return DialogConfig{
		ContextTTL:   5 * time.Minute,
		SessionTTL:   30 * time.Minute,
		GuardTimeout: 500 * time.Millisecond,
	}
}

// DefaultDecisionConfig returns the default election policy.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		MinConfidence:    0.5,
		NoRepeatCooldown: 20 * time.Second,
		NoRepeatEnabled:  false,
	}
}

// DefaultJanitorConfig returns the default janitor configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:  10 * time.Second,
		BatchSize: 250,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 10,
	}
}

// DefaultFlowsConfig returns the default flow storage configuration.
func DefaultFlowsConfig() FlowsConfig {
	return FlowsConfig{
		Root: "data/bots",
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Addr:      ":9091",
		Namespace: "botflow",
	}
}
