package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or
// numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits
// human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Clock     ClockConfig     `yaml:"clock"`
	Chaos     ChaosConfig     `yaml:"chaos"`
	Billing   BillingConfig   `yaml:"billing"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Seed      SeedConfig      `yaml:"seed"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration. Port 0 means "pick a free
// port in the 59000-60000 range at startup".
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// AuthConfig selects the API key validation mode.
type AuthConfig struct {
	Mode string `yaml:"mode"` // lenient | strict
}

// ClockConfig sets the virtual clock's initial state. Start of 0 means
// "wall clock now".
type ClockConfig struct {
	Mode       string `yaml:"mode"` // real | accelerated | manual
	Multiplier int64  `yaml:"multiplier"`
	Start      int64  `yaml:"start"`
}

// ChaosConfig seeds the coordinator and sets initial policies.
type ChaosConfig struct {
	Seed    int64              `yaml:"seed"`
	Payment PaymentChaosConfig `yaml:"payment"`
	Event   EventChaosConfig   `yaml:"event"`
	API     APIChaosConfig     `yaml:"api"`
}

// PaymentChaosConfig is the initial payment failure policy.
type PaymentChaosConfig struct {
	FailureRate    float64            `yaml:"failure_rate"`
	DeclineCodes   []string           `yaml:"decline_codes"`
	DeclineWeights map[string]float64 `yaml:"decline_weights"`
}

// EventChaosConfig is the initial event delivery policy.
type EventChaosConfig struct {
	OutOfOrder    bool     `yaml:"out_of_order"`
	DuplicateRate float64  `yaml:"duplicate_rate"`
	BufferWindow  Duration `yaml:"buffer_window"`
}

// APIChaosConfig is the initial API failure policy.
type APIChaosConfig struct {
	TimeoutRate   float64 `yaml:"timeout_rate"`
	TimeoutMS     int64   `yaml:"timeout_ms"`
	RateLimitRate float64 `yaml:"rate_limit_rate"`
	ErrorRate     float64 `yaml:"error_rate"`
}

// BillingConfig controls the billing worker.
type BillingConfig struct {
	AutoStart bool `yaml:"auto_start"`
}

// WebhooksConfig tunes the delivery pool and pre-registers endpoints.
type WebhooksConfig struct {
	Workers        int                     `yaml:"workers"`
	AttemptTimeout Duration                `yaml:"attempt_timeout"`
	Endpoints      []WebhookEndpointConfig `yaml:"endpoints"`
}

// WebhookEndpointConfig registers an endpoint at startup, equivalent to
// posting it to /_config/webhooks/{id}.
type WebhookEndpointConfig struct {
	ID            string   `yaml:"id"`
	URL           string   `yaml:"url"`
	Secret        string   `yaml:"secret"`
	EnabledEvents []string `yaml:"enabled_events"`
}

// SeedConfig points at a YAML fixture file loaded into the stores at boot.
type SeedConfig struct {
	File string `yaml:"file"`
}

// SnapshotConfig sets the directory for store snapshots.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// MirrorConfig selects the optional write-through replication target.
type MirrorConfig struct {
	Driver        string `yaml:"driver"` // "" | postgres | mongodb
	PostgresURL   string `yaml:"postgres_url"`
	MongoDBURL    string `yaml:"mongodb_url"`
	MongoDatabase string `yaml:"mongodb_database"`
}

// RateLimitConfig gates the optional global request limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}
