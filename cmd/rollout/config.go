package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	Lock         LockConfig         `mapstructure:"lock"`
	Postflight   PostflightConfig   `mapstructure:"postflight"`
	Environments EnvironmentsConfig `mapstructure:"environments"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	API          APIConfig          `mapstructure:"api"`
}

// DatabaseConfig holds database configuration. The SQLite file lives on
// shared storage when multiple worker instances coordinate.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DispatcherConfig holds the control loop timing knobs.
type DispatcherConfig struct {
	// CooldownInterval is the minimum spacing between successful
	// deployments.
	CooldownInterval time.Duration `mapstructure:"cooldown_interval"`

	// IdleInterval is the sleep between polls of an empty queue.
	IdleInterval time.Duration `mapstructure:"idle_interval"`
}

// LockConfig holds the deployment lock settings.
type LockConfig struct {
	// Timeout bounds how long a cycle waits for the lock.
	Timeout time.Duration `mapstructure:"timeout"`

	// PollInterval is the spacing between acquisition attempts under
	// contention.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// HeartbeatTTL is how long a holder's heartbeat stays live. A holder
	// silent for longer is considered crashed and its lock reclaimable.
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
}

// PostflightConfig holds health confirmation settings.
type PostflightConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EnvironmentsConfig points at the per-environment spec file.
type EnvironmentsConfig struct {
	// File is a YAML environments file. Empty uses built-in defaults.
	File string `mapstructure:"file"`
}

// RegistryConfig holds the artifact registry collaborator settings.
type RegistryConfig struct {
	// URLTemplate is the existence-check URL; ${VERSION} is substituted.
	URLTemplate string        `mapstructure:"url_template"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig holds the cluster telemetry collaborator settings.
type TelemetryConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotifyConfig holds outcome notification settings.
type NotifyConfig struct {
	// WebhookURL receives a JSON POST per outcome. Empty disables delivery.
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// APIConfig holds the worker's status HTTP surface settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Address returns the API address in host:port format.
func (c APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.dsn", "./data/rollout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("dispatcher.cooldown_interval", "5m")
	v.SetDefault("dispatcher.idle_interval", "10s")

	v.SetDefault("lock.timeout", "1m")
	v.SetDefault("lock.poll_interval", "5s")
	v.SetDefault("lock.heartbeat_ttl", "30s")

	v.SetDefault("postflight.interval", "10s")
	v.SetDefault("postflight.max_attempts", 30)
	v.SetDefault("postflight.timeout", "10s")

	v.SetDefault("environments.file", "")

	v.SetDefault("registry.url_template", "")
	v.SetDefault("registry.timeout", "10s")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.timeout", "10s")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("ROLLOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
