// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	DB        DBConfig        `mapstructure:"db"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines credential verification knobs. The service only
// verifies presented bearer tokens; issuance lives elsewhere.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// QueueConfig governs the worker pool and the dequeue throttle.
type QueueConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	Depth           int `mapstructure:"depth"`
	RateMax         int `mapstructure:"rate_max"`
	RateWindowMs    int `mapstructure:"rate_window_ms"`
	DefaultPriority int `mapstructure:"default_priority"`
}

// ProxyConfig governs the proxy pool manager.
type ProxyConfig struct {
	RefreshSeconds int `mapstructure:"refresh_seconds"`
	FailThreshold  int `mapstructure:"fail_threshold"`
}

// IdentityConfig governs the identity pool manager.
type IdentityConfig struct {
	RefreshSeconds int `mapstructure:"refresh_seconds"`
}

// FetchConfig overrides the upstream endpoint bases, mainly for tests
// and for routing through an interception layer.
type FetchConfig struct {
	SuggestBase string `mapstructure:"suggest_base"`
	SearchBase  string `mapstructure:"search_base"`
	BasketBase  string `mapstructure:"basket_base"`
	StaticBase  string `mapstructure:"static_base"`
	SiteBase    string `mapstructure:"site_base"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory stores (local development).
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PublisherConfig holds metadata for task-completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
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
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.rate_max", 10)
	v.SetDefault("queue.rate_window_ms", 1000)
	v.SetDefault("queue.default_priority", 3)
	v.SetDefault("proxy.refresh_seconds", 300)
	v.SetDefault("proxy.fail_threshold", 5)
	v.SetDefault("identity.refresh_seconds", 300)
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be > 0")
	}
	if c.Queue.RateMax <= 0 || c.Queue.RateWindowMs <= 0 {
		return fmt.Errorf("queue.rate_max and queue.rate_window_ms must be > 0")
	}
	if c.Proxy.FailThreshold <= 0 {
		return fmt.Errorf("proxy.fail_threshold must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for pubsub")
	}
	return nil
}

// RateWindow returns the dequeue throttle window as a duration.
func (c QueueConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowMs) * time.Millisecond
}

// RefreshInterval returns the pool refresh interval as a duration.
func (c ProxyConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// RefreshInterval returns the identity refresh interval as a duration.
func (c IdentityConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}
