package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use the PAPER_TIGER_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIntIfEnv(&c.Server.Port, "PAPER_TIGER_PORT")

	setIfEnv(&c.Logging.Level, "PAPER_TIGER_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PAPER_TIGER_LOG_FORMAT")

	setIfEnv(&c.Auth.Mode, "PAPER_TIGER_AUTH_MODE")

	setIfEnv(&c.Clock.Mode, "PAPER_TIGER_CLOCK_MODE")
	setInt64IfEnv(&c.Clock.Multiplier, "PAPER_TIGER_CLOCK_MULTIPLIER")
	setInt64IfEnv(&c.Clock.Start, "PAPER_TIGER_CLOCK_START")

	setInt64IfEnv(&c.Chaos.Seed, "PAPER_TIGER_CHAOS_SEED")
	setFloatIfEnv(&c.Chaos.Payment.FailureRate, "PAPER_TIGER_PAYMENT_FAILURE_RATE")
	setFloatIfEnv(&c.Chaos.API.TimeoutRate, "PAPER_TIGER_API_TIMEOUT_RATE")
	setFloatIfEnv(&c.Chaos.API.RateLimitRate, "PAPER_TIGER_API_RATE_LIMIT_RATE")
	setFloatIfEnv(&c.Chaos.API.ErrorRate, "PAPER_TIGER_API_ERROR_RATE")

	// PAPER_TIGER_AUTO_START is the legacy spelling; PAPER_TIGER_START wins
	// when both are set.
	setBoolIfEnv(&c.Billing.AutoStart, "PAPER_TIGER_AUTO_START")
	setBoolIfEnv(&c.Billing.AutoStart, "PAPER_TIGER_START")

	setIntIfEnv(&c.Webhooks.Workers, "PAPER_TIGER_WEBHOOK_WORKERS")
	setDurationIfEnv(&c.Webhooks.AttemptTimeout, "PAPER_TIGER_WEBHOOK_TIMEOUT")

	setIfEnv(&c.Seed.File, "PAPER_TIGER_SEED_FILE")
	setIfEnv(&c.Snapshot.Dir, "PAPER_TIGER_SNAPSHOT_DIR")

	setIfEnv(&c.Mirror.Driver, "PAPER_TIGER_MIRROR_DRIVER")
	setIfEnv(&c.Mirror.PostgresURL, "PAPER_TIGER_MIRROR_POSTGRES_URL")
	setIfEnv(&c.Mirror.MongoDBURL, "PAPER_TIGER_MIRROR_MONGODB_URL")
	setIfEnv(&c.Mirror.MongoDatabase, "PAPER_TIGER_MIRROR_MONGODB_DATABASE")

	setBoolIfEnv(&c.RateLimit.Enabled, "PAPER_TIGER_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.RequestsPerMinute, "PAPER_TIGER_RATE_LIMIT_RPM")
}

func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*target = parsed
		}
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: parsed}
		}
	}
}
