// Package config aggregates YAML file configuration with PAPER_TIGER_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the built-in defaults, without touching the
// filesystem or environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         0,
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Mode: "lenient",
		},
		Clock: ClockConfig{
			Mode:       "real",
			Multiplier: 1,
		},
		Billing: BillingConfig{
			AutoStart: true,
		},
		Webhooks: WebhooksConfig{
			Workers:        4,
			AttemptTimeout: Duration{Duration: 5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 600,
		},
	}
}

// parseFile decodes the YAML config file over the defaults.
func (c *Config) parseFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Auth.Mode {
	case "lenient", "strict":
	default:
		return fmt.Errorf("auth.mode must be lenient or strict, got %q", c.Auth.Mode)
	}

	switch c.Clock.Mode {
	case "real", "accelerated", "manual":
	default:
		return fmt.Errorf("clock.mode must be real, accelerated, or manual, got %q", c.Clock.Mode)
	}
	if c.Clock.Mode == "accelerated" && c.Clock.Multiplier < 1 {
		return fmt.Errorf("clock.multiplier must be >= 1, got %d", c.Clock.Multiplier)
	}

	for name, rate := range map[string]float64{
		"chaos.payment.failure_rate": c.Chaos.Payment.FailureRate,
		"chaos.event.duplicate_rate": c.Chaos.Event.DuplicateRate,
		"chaos.api.timeout_rate":     c.Chaos.API.TimeoutRate,
		"chaos.api.rate_limit_rate":  c.Chaos.API.RateLimitRate,
		"chaos.api.error_rate":       c.Chaos.API.ErrorRate,
	} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %v", name, rate)
		}
	}

	switch c.Mirror.Driver {
	case "", "postgres", "mongodb":
	default:
		return fmt.Errorf("mirror.driver must be postgres or mongodb, got %q", c.Mirror.Driver)
	}
	if c.Mirror.Driver == "postgres" && c.Mirror.PostgresURL == "" {
		return fmt.Errorf("mirror.postgres_url required when mirror.driver is postgres")
	}
	if c.Mirror.Driver == "mongodb" && c.Mirror.MongoDBURL == "" {
		return fmt.Errorf("mirror.mongodb_url required when mirror.driver is mongodb")
	}

	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhooks.endpoints[%d]: url is required", i)
		}
		if ep.Secret == "" {
			return fmt.Errorf("webhooks.endpoints[%d]: secret is required", i)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}
	return nil
}
