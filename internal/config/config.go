// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Health    HealthConfig    `mapstructure:"health"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScannerConfig governs batch sweep and concurrency behavior.
type ScannerConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	BatchSize      int     `mapstructure:"batch_size"`
	ProgressDir    string  `mapstructure:"progress_dir"`
	PerDomainRPS   float64 `mapstructure:"per_domain_rps"`
	SkipProcessed  bool    `mapstructure:"skip_processed"`
	PublishTopic   string  `mapstructure:"publish_topic"`
	PublishResults bool    `mapstructure:"publish_results"`
}

// DNSConfig controls the pre-validation pass.
type DNSConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Concurrency    int  `mapstructure:"concurrency"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// CacheConfig bounds the page content cache.
type CacheConfig struct {
	MaxEntries int    `mapstructure:"max_entries"`
	MaxBytes   int64  `mapstructure:"max_bytes"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	Dir        string `mapstructure:"dir"`
}

// BlacklistConfig locates the persisted exclusion list.
type BlacklistConfig struct {
	Path           string `mapstructure:"path"`
	CrashThreshold int    `mapstructure:"crash_threshold"`
}

// HealthConfig tunes the cluster health monitor.
type HealthConfig struct {
	ErrorThreshold int `mapstructure:"error_threshold"`
}

// EngineConfig configures the browser automation engine.
type EngineConfig struct {
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
	ProbeFirst    bool   `mapstructure:"probe_first"`
}

// TrackerConfig controls access to the URL tracker store.
type TrackerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// OpsConfig controls the metrics/health HTTP listener.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCOUT")
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
	v.SetDefault("scanner.concurrency", 10)
	v.SetDefault("scanner.batch_size", 100)
	v.SetDefault("scanner.progress_dir", ".")
	v.SetDefault("scanner.per_domain_rps", 1.0)
	v.SetDefault("scanner.skip_processed", true)
	v.SetDefault("scanner.publish_results", false)
	v.SetDefault("dns.enabled", true)
	v.SetDefault("dns.concurrency", 50)
	v.SetDefault("dns.timeout_seconds", 5)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_bytes", int64(100*1024*1024))
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("blacklist.path", "blacklist.json")
	v.SetDefault("blacklist.crash_threshold", 2)
	v.SetDefault("health.error_threshold", 10)
	v.SetDefault("engine.max_parallel", 4)
	v.SetDefault("engine.nav_timeout_seconds", 45)
	v.SetDefault("engine.user_agent", "prebid-scout/0.1")
	v.SetDefault("engine.probe_first", true)
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be > 0")
	}
	if c.Scanner.BatchSize <= 0 {
		return fmt.Errorf("scanner.batch_size must be > 0")
	}
	if c.DNS.Enabled && c.DNS.Concurrency <= 0 {
		return fmt.Errorf("dns.concurrency must be > 0 when dns is enabled")
	}
	if c.Cache.MaxEntries <= 0 || c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_entries and cache.max_bytes must be > 0")
	}
	if c.Blacklist.CrashThreshold <= 0 {
		return fmt.Errorf("blacklist.crash_threshold must be > 0")
	}
	if c.Health.ErrorThreshold <= 0 {
		return fmt.Errorf("health.error_threshold must be > 0")
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops server is enabled")
	}
	return nil
}

// CacheTTL converts the configured TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// DNSTimeout converts the configured DNS timeout into a duration.
func (c Config) DNSTimeout() time.Duration {
	return time.Duration(c.DNS.TimeoutSeconds) * time.Second
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Engine.NavTimeoutSec) * time.Second
}
