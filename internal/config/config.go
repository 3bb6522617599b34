// Package config provides configuration loading for the event hub.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Trackers TrackersConfig `mapstructure:"trackers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebhookConfig holds delivery engine configuration.
type WebhookConfig struct {
	MaxConcurrentDeliveries int           `mapstructure:"max_concurrent_deliveries"`
	DefaultTimeout          time.Duration `mapstructure:"default_timeout"`
	UserAgent               string        `mapstructure:"user_agent"`
	DeadLetterEnabled       bool          `mapstructure:"dead_letter_enabled"`
	DeadLetterMaxSize       int           `mapstructure:"dead_letter_max_size"`
	RetryableStatuses       []int         `mapstructure:"retryable_statuses"`
}

// SyncConfig holds dedup and conflict resolution configuration.
type SyncConfig struct {
	EventTTL           time.Duration `mapstructure:"event_ttl"`
	SyncStateTTL       time.Duration `mapstructure:"sync_state_ttl"`
	SyncChainTTL       time.Duration `mapstructure:"sync_chain_ttl"`
	ConflictTTL        time.Duration `mapstructure:"conflict_ttl"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	MaxChainLength     int           `mapstructure:"max_chain_length"`
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`
}

// TrackerConfig holds credentials for one external issue tracker.
type TrackerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// TrackersConfig holds configuration for all external trackers.
type TrackersConfig struct {
	GitHub TrackerConfig `mapstructure:"github"`
	GitLab TrackerConfig `mapstructure:"gitlab"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hookbridge")

	// Enable environment variable override
	v.SetEnvPrefix("HOOKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Explicitly bind tracker credentials (nested struct issue with viper)
	v.BindEnv("trackers.github.token", "HOOKBRIDGE_TRACKERS_GITHUB_TOKEN")
	v.BindEnv("trackers.github.base_url", "HOOKBRIDGE_TRACKERS_GITHUB_BASE_URL")
	v.BindEnv("trackers.gitlab.token", "HOOKBRIDGE_TRACKERS_GITLAB_TOKEN")
	v.BindEnv("trackers.gitlab.base_url", "HOOKBRIDGE_TRACKERS_GITLAB_BASE_URL")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "hookbridge")
	v.SetDefault("database.password", "hookbridge")
	v.SetDefault("database.database", "hookbridge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Webhook delivery defaults
	v.SetDefault("webhook.max_concurrent_deliveries", 50)
	v.SetDefault("webhook.default_timeout", "30s")
	v.SetDefault("webhook.user_agent", "hookbridge-webhook/1.0")
	v.SetDefault("webhook.dead_letter_enabled", true)
	v.SetDefault("webhook.dead_letter_max_size", 1000)
	v.SetDefault("webhook.retryable_statuses", []int{429, 500, 502, 503, 504})

	// Sync defaults
	v.SetDefault("sync.event_ttl", "72h")       // 3 days
	v.SetDefault("sync.sync_state_ttl", "168h") // 7 days
	v.SetDefault("sync.sync_chain_ttl", "5m")
	v.SetDefault("sync.conflict_ttl", "720h") // 30 days
	v.SetDefault("sync.lock_ttl", "5m")
	v.SetDefault("sync.max_chain_length", 5)
	v.SetDefault("sync.timestamp_tolerance", "1s")

	// Tracker defaults
	v.SetDefault("trackers.github.base_url", "https://api.github.com")
	v.SetDefault("trackers.gitlab.base_url", "https://gitlab.com/api/v4")
}
