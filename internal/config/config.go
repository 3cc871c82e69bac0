// Package config loads and validates unfurler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Capture and event providers.
const (
	ProviderNone   = "none"
	ProviderMemory = "memory"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig   `mapstructure:"server"`
	Slack        SlackConfig    `mapstructure:"slack"`
	Unfurl       UnfurlConfig   `mapstructure:"unfurl"`
	HTTP         HTTPConfig     `mapstructure:"http"`
	Gerrit       ServiceConfig  `mapstructure:"gerrit"`
	Monorail     MonorailConfig `mapstructure:"monorail"`
	IssueTracker ServiceConfig  `mapstructure:"issuetracker"`
	CodeSearch   ServiceConfig  `mapstructure:"codesearch"`
	DB           DBConfig       `mapstructure:"db"`
	Capture      CaptureConfig  `mapstructure:"capture"`
	Events       EventsConfig   `mapstructure:"events"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	EventTimeoutSeconds int `mapstructure:"event_timeout_seconds"`
	DispatchWorkers     int `mapstructure:"dispatch_workers"`
	QueueDepth          int `mapstructure:"queue_depth"`
}

// SlackConfig holds app credentials.
type SlackConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
	BotToken      string `mapstructure:"bot_token"`
	APIURL        string `mapstructure:"api_url"`
}

// UnfurlConfig governs dispatch.
type UnfurlConfig struct {
	MaxLinks int `mapstructure:"max_links"`
}

// HTTPConfig configures the outbound client.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ServiceConfig points an adapter at its upstream.
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// MonorailConfig adds the XSRF token retry policy.
type MonorailConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TokenAttempts  int    `mapstructure:"token_attempts"`
	TokenBackoffMs int    `mapstructure:"token_backoff_ms"`
}

// DBConfig controls access to the installation database. An empty DSN keeps
// installations in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CaptureConfig selects where malformed upstream payloads are written.
type CaptureConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects where outcome events are published.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UNFURLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.event_timeout_seconds", 30)
	v.SetDefault("server.dispatch_workers", 8)
	v.SetDefault("server.queue_depth", 64)
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.api_url", "")
	v.SetDefault("unfurl.max_links", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "crlink-unfurler/1.0")
	v.SetDefault("http.rate_limit_rps", 5.0)
	v.SetDefault("http.rate_limit_burst", 5)
	v.SetDefault("gerrit.base_url", "https://chromium-review.googlesource.com")
	v.SetDefault("monorail.base_url", "https://bugs.chromium.org")
	v.SetDefault("monorail.token_attempts", 3)
	v.SetDefault("monorail.token_backoff_ms", 250)
	v.SetDefault("issuetracker.base_url", "https://issues.chromium.org")
	v.SetDefault("codesearch.base_url", "https://source.chromium.org")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "app_installs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("capture.provider", ProviderNone)
	v.SetDefault("capture.base_dir", "captures")
	v.SetDefault("capture.gcs_bucket", "")
	v.SetDefault("capture.prefix", "payloads")
	v.SetDefault("events.provider", ProviderNone)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic_name", "unfurl-outcomes")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.EventTimeoutSeconds <= 0 {
		return fmt.Errorf("server.event_timeout_seconds must be > 0")
	}
	if c.Server.DispatchWorkers < 0 || c.Server.QueueDepth < 0 {
		return fmt.Errorf("server.dispatch_workers and server.queue_depth must be >= 0")
	}
	if c.Unfurl.MaxLinks <= 0 {
		return fmt.Errorf("unfurl.max_links must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return fmt.Errorf("http.rate_limit_rps and http.rate_limit_burst must be >= 0")
	}
	if c.Monorail.TokenAttempts <= 0 {
		return fmt.Errorf("monorail.token_attempts must be > 0")
	}
	if c.Monorail.TokenBackoffMs < 0 {
		return fmt.Errorf("monorail.token_backoff_ms must be >= 0")
	}
	switch c.Capture.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Capture.BaseDir == "" {
			return fmt.Errorf("capture.base_dir must be set when capture.provider is local")
		}
	case ProviderGCS:
		if c.Capture.GCSBucket == "" {
			return fmt.Errorf("capture.gcs_bucket must be set when capture.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown capture.provider %q", c.Capture.Provider)
	}
	switch c.Events.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Events.ProjectID == "" || c.Events.TopicName == "" {
			return fmt.Errorf("events.project_id and events.topic_name must be set when events.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	return nil
}

// RequireSlack enforces the credentials the webhook server needs.
func (c Config) RequireSlack() error {
	if c.Slack.SigningSecret == "" {
		return fmt.Errorf("slack.signing_secret is required")
	}
	if c.Slack.BotToken == "" && c.DB.DSN == "" {
		return fmt.Errorf("slack.bot_token is required when no installation database is configured")
	}
	return nil
}

// HTTPTimeout is the outbound client timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// EventTimeout bounds the handling of one link_shared event.
func (c Config) EventTimeout() time.Duration {
	return time.Duration(c.Server.EventTimeoutSeconds) * time.Second
}

// TokenBackoff is the constant delay between XSRF token attempts.
func (c Config) TokenBackoff() time.Duration {
	return time.Duration(c.Monorail.TokenBackoffMs) * time.Millisecond
}
