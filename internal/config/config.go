// Package config handles configuration loading and validation for the
// analytics service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/tos-network/kale-analytics/internal/util"
)

// Config holds all configuration for the service
type Config struct {
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bolt      BoltConfig      `mapstructure:"bolt"`
	API       APIConfig       `mapstructure:"api"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Events    EventsConfig    `mapstructure:"events"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Log       LogConfig       `mapstructure:"log"`
}

// AnalyticsConfig defines the network administration settings
type AnalyticsConfig struct {
	AdminAddress string `mapstructure:"admin_address"`
	EmissionRate uint32 `mapstructure:"emission_rate"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // redis or bolt
	CacheSize int    `mapstructure:"cache_size"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BoltConfig defines the embedded database file
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig defines API server settings
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Bind         string        `mapstructure:"bind"`
	SummaryCache time.Duration `mapstructure:"summary_cache"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// AuthConfig defines bearer token settings
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// EventsConfig defines where notifications are published
type EventsConfig struct {
	RedisEnabled     bool   `mapstructure:"redis_enabled"`
	ChannelPrefix    string `mapstructure:"channel_prefix"`
	WebSocketEnabled bool   `mapstructure:"websocket_enabled"`
}

// NotifyConfig defines webhook notifications
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	ServiceName  string `mapstructure:"service_name"`
	ServiceURL   string `mapstructure:"service_url"`
	Workers      int    `mapstructure:"workers"`
	QueueSize    int    `mapstructure:"queue_size"`
	NotifyFailed bool   `mapstructure:"notify_failed"` // also announce failed sessions
}

// NewRelicConfig defines New Relic APM settings
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// MetricsConfig defines the periodic network metrics report
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron expression with seconds
}

// SecurityConfig defines API abuse policy settings
type SecurityConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxScore        int32         `mapstructure:"max_score"`
	ScoreResetTime  time.Duration `mapstructure:"score_reset_time"`
	TempBanTime     time.Duration `mapstructure:"temp_ban_time"`
	CostRequest     int32         `mapstructure:"cost_request"`
	CostWrite       int32         `mapstructure:"cost_write"`
	CostMalformed   int32         `mapstructure:"cost_malformed"`
	CostAuthFailure int32         `mapstructure:"cost_auth_failure"`
	Whitelist       []string      `mapstructure:"whitelist"`
}

// ProfilingConfig defines the pprof listener
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kale-analytics")
	}

	// KALE_ANALYTICS_AUTH_SECRET overrides auth.secret
	v.SetEnvPrefix("KALE_ANALYTICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Keys without a real default are registered so environment
	// variables can supply them.
	for _, key := range []string{
		"analytics.admin_address",
		"auth.secret",
		"redis.password",
		"notify.discord_url",
		"notify.telegram_bot",
		"notify.telegram_chat",
		"notify.service_url",
		"newrelic.license_key",
		"log.file",
	} {
		v.SetDefault(key, "")
	}

	// Analytics defaults
	v.SetDefault("analytics.emission_rate", 50000)

	// Storage defaults
	v.SetDefault("storage.driver", "redis")
	v.SetDefault("storage.cache_size", 4096)

	// Redis defaults
	v.SetDefault("redis.url", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	// Bolt defaults
	v.SetDefault("bolt.path", "kale-analytics.db")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.summary_cache", "5s")
	v.SetDefault("api.cors_origins", []string{"*"})

	// Auth defaults
	v.SetDefault("auth.issuer", "kale-analytics")
	v.SetDefault("auth.token_ttl", "24h")

	// Events defaults
	v.SetDefault("events.redis_enabled", true)
	v.SetDefault("events.channel_prefix", "kale:events:")
	v.SetDefault("events.websocket_enabled", true)

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.service_name", "KALE Farming Analytics")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)

	// New Relic defaults
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "KALE Analytics")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.schedule", "*/30 * * * * *")

	// Security defaults
	v.SetDefault("security.enabled", true)
	v.SetDefault("security.max_score", 300)
	v.SetDefault("security.score_reset_time", "1m")
	v.SetDefault("security.temp_ban_time", "5m")
	v.SetDefault("security.cost_request", 1)
	v.SetDefault("security.cost_write", 2)
	v.SetDefault("security.cost_malformed", 25)
	v.SetDefault("security.cost_auth_failure", 20)

	// Profiling defaults
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	if c.Analytics.AdminAddress != "" && !util.ValidateAddress(c.Analytics.AdminAddress) {
		return fmt.Errorf("analytics.admin_address is not a valid address")
	}

	switch c.Storage.Driver {
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis driver")
		}
	case "bolt":
		if c.Bolt.Path == "" {
			return fmt.Errorf("bolt.path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("storage.driver must be redis or bolt, got %q", c.Storage.Driver)
	}

	if c.Storage.CacheSize < 0 {
		return fmt.Errorf("storage.cache_size must be >= 0")
	}

	if c.Events.RedisEnabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when events.redis_enabled is set")
	}

	if c.Notify.Enabled && c.Notify.Workers <= 0 {
		return fmt.Errorf("notify.workers must be positive")
	}

	if c.Metrics.Enabled {
		if _, err := CronParser.Parse(c.Metrics.Schedule); err != nil {
			return fmt.Errorf("metrics.schedule: %w", err)
		}
	}

	if c.Security.Enabled && c.Security.MaxScore <= 0 {
		return fmt.Errorf("security.max_score must be positive")
	}

	if c.Profiling.Enabled && c.Profiling.Bind == "" {
		return fmt.Errorf("profiling.bind is required when profiling is enabled")
	}

	return nil
}

// CronParser parses schedules with a leading seconds field
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Storage.Driver == "redis" || c.Events.RedisEnabled
}
