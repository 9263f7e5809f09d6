// Package config loads and validates pipeline configuration via Viper.
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
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig sets database and document storage locations.
type StorageConfig struct {
	DBPath         string `mapstructure:"db_path"`
	DataDir        string `mapstructure:"data_dir"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// QueueConfig governs fetch admission and retry behavior.
type QueueConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	WindowStarts    int           `mapstructure:"window_starts"`
	Window          time.Duration `mapstructure:"window"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMaxDelay time.Duration `mapstructure:"backoff_max_delay"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ValidatorConfig controls URL admission policy.
type ValidatorConfig struct {
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// FeedsConfig tunes feed refresh and aggregation.
type FeedsConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	BatchSize         int           `mapstructure:"batch_size"`
	OverfetchMultiple int           `mapstructure:"overfetch_multiple"`
}

// LoggingConfig selects the logger profile.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from an optional file plus FEEDVAULT_* environment
// variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("storage.db_path", "feedvault.sqlite")
	v.SetDefault("storage.data_dir", "documents")
	v.SetDefault("storage.migrations_path", "migrations")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.window_starts", 10)
	v.SetDefault("queue.window", time.Second)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff_base", 800*time.Millisecond)
	v.SetDefault("queue.backoff_max_delay", 30*time.Second)
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.user_agent", "feedvault/1.0")
	v.SetDefault("validator.allow_private_networks", false)
	v.SetDefault("feeds.cache_ttl", 5*time.Minute)
	v.SetDefault("feeds.batch_size", 10)
	v.SetDefault("feeds.overfetch_multiple", 3)
	v.SetDefault("logging.development", false)

	v.SetEnvPrefix("FEEDVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.WindowStarts < 1 {
		return fmt.Errorf("queue.window_starts must be at least 1, got %d", c.Queue.WindowStarts)
	}
	if c.Queue.Window <= 0 {
		return fmt.Errorf("queue.window must be positive, got %s", c.Queue.Window)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	if c.Feeds.BatchSize < 1 {
		return fmt.Errorf("feeds.batch_size must be at least 1, got %d", c.Feeds.BatchSize)
	}
	if c.Feeds.OverfetchMultiple < 1 {
		return fmt.Errorf("feeds.overfetch_multiple must be at least 1, got %d", c.Feeds.OverfetchMultiple)
	}
	return nil
}
