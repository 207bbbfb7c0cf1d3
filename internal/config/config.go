package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, parsed from COCKPIT_*
// environment variables with defaults suitable for local development.
type Config struct {
	HTTP      HTTPConfig      `envPrefix:"COCKPIT_HTTP_"`
	Database  DatabaseConfig  `envPrefix:"COCKPIT_DATABASE_"`
	Gateway   GatewayConfig   `envPrefix:"COCKPIT_GATEWAY_"`
	Presence  PresenceConfig  `envPrefix:"COCKPIT_PRESENCE_"`
	Detection DetectionConfig `envPrefix:"COCKPIT_DETECTION_"`
}

type HTTPConfig struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	Path    string        `env:"PATH" envDefault:"./data/cockpit.db"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type GatewayConfig struct {
	BufferSize   int           `env:"BUFFER_SIZE" envDefault:"100"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"90s"`
	RateLimit    int           `env:"RATE_LIMIT" envDefault:"100"`
	RateWindow   time.Duration `env:"RATE_WINDOW" envDefault:"1m"`
	TokenKey     string        `env:"TOKEN_KEY"`
}

// PresenceConfig carries the client-coordinator policy: heartbeat cadence
// and the reconnect backoff envelope.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCap        time.Duration `env:"BACKOFF_CAP" envDefault:"30s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"8"`
}

// DetectionConfig holds the auto-escalation thresholds. These are product
// policy, overridable per deployment.
type DetectionConfig struct {
	ConsecutiveFailures int           `env:"CONSECUTIVE_FAILURES" envDefault:"5"`
	StuckDuration       time.Duration `env:"STUCK_DURATION" envDefault:"5m"`
	AccuracyDrop        float64       `env:"ACCURACY_DROP" envDefault:"0.30"`
	Inactivity          time.Duration `env:"INACTIVITY" envDefault:"2m"`
}

// Load parses configuration from the environment on top of defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the
// environment, used by tests.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:    "./data/cockpit.db",
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			BufferSize:   100,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  90 * time.Second,
			RateLimit:    100,
			RateWindow:   time.Minute,
		},
		Presence: PresenceConfig{
			HeartbeatInterval: 30 * time.Second,
			BackoffBase:       time.Second,
			BackoffCap:        30 * time.Second,
			MaxAttempts:       8,
		},
		Detection: DetectionConfig{
			ConsecutiveFailures: 5,
			StuckDuration:       5 * time.Minute,
			AccuracyDrop:        0.30,
			Inactivity:          2 * time.Minute,
		},
	}
}

// Validate catches configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Gateway.BufferSize <= 0 {
		return fmt.Errorf("gateway buffer size must be positive")
	}
	if c.Gateway.WriteTimeout <= 0 || c.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}
	if c.Gateway.RateLimit <= 0 || c.Gateway.RateWindow <= 0 {
		return fmt.Errorf("gateway rate limit and window must be positive")
	}
	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Presence.BackoffBase <= 0 || c.Presence.BackoffCap < c.Presence.BackoffBase {
		return fmt.Errorf("backoff base must be positive and no greater than the cap")
	}
	if c.Presence.MaxAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	if c.Detection.ConsecutiveFailures <= 0 {
		return fmt.Errorf("consecutive failure threshold must be positive")
	}
	if c.Detection.StuckDuration <= 0 || c.Detection.Inactivity <= 0 {
		return fmt.Errorf("detection durations must be positive")
	}
	if c.Detection.AccuracyDrop <= 0 || c.Detection.AccuracyDrop > 1 {
		return fmt.Errorf("accuracy drop threshold must be in (0, 1]")
	}
	return nil
}
