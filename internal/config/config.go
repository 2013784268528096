// Package config provides configuration for the orchestrator.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cockroachdb/errors"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:agentplane.db?cache=shared&mode=rwc"`

	// Event distribution
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"256"`
	EventRetention   time.Duration `env:"EVENT_RETENTION" envDefault:"168h"`
	EventGCInterval  time.Duration `env:"EVENT_GC_INTERVAL" envDefault:"1h"`

	// Cron loops
	TriggerInterval  time.Duration `env:"CRON_TRIGGER_INTERVAL" envDefault:"60s"`
	DispatchInterval time.Duration `env:"CRON_DISPATCH_INTERVAL" envDefault:"30s"`

	// Shutdown
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return errors.Newf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.SubscriberBuffer <= 0 {
		return errors.Newf("SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	if c.EventRetention <= 0 {
		return errors.New("EVENT_RETENTION must be positive")
	}
	if c.TriggerInterval <= 0 || c.DispatchInterval <= 0 {
		return errors.New("cron intervals must be positive")
	}
	return nil
}
