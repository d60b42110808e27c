// Package config loads and validates sitesearch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitesearch/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Sites      []crawler.SiteConfig `mapstructure:"sites"`
	Crawler    CrawlerConfig        `mapstructure:"crawler"`
	Aggregator AggregatorConfig     `mapstructure:"aggregator"`
	Search     SearchConfig         `mapstructure:"search"`
	Storage    StorageConfig        `mapstructure:"storage"`
	Logging    LoggingConfig        `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs fetch and crawl scheduling behavior.
type CrawlerConfig struct {
	DelayMs                int     `mapstructure:"delay_ms"`
	UserAgent              string  `mapstructure:"user_agent"`
	Referrer               string  `mapstructure:"referrer"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	PoolSize               int     `mapstructure:"pool_size"`
	MaxRPSPerHost          float64 `mapstructure:"max_rps_per_host"`
	MonitorIntervalSeconds int     `mapstructure:"monitor_interval_seconds"`
}

// AggregatorConfig controls batching of lemma writes.
type AggregatorConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	IdleMs    int `mapstructure:"idle_ms"`
	LingerMs  int `mapstructure:"linger_ms"`
}

// SearchConfig tunes query ranking.
type SearchConfig struct {
	FrequencyThreshold float64 `mapstructure:"frequency_threshold"`
	DefaultLimit       int     `mapstructure:"default_limit"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage providers.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITESEARCH")
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
	v.SetDefault("crawler.delay_ms", 500)
	v.SetDefault("crawler.user_agent", "SiteSearchBot/1.0")
	v.SetDefault("crawler.referrer", "https://www.google.com")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.pool_size", 0)
	v.SetDefault("crawler.max_rps_per_host", 0)
	v.SetDefault("crawler.monitor_interval_seconds", 15)
	v.SetDefault("aggregator.batch_size", 200)
	v.SetDefault("aggregator.idle_ms", 500)
	v.SetDefault("aggregator.linger_ms", 50)
	v.SetDefault("search.frequency_threshold", 0.95)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("sites must list at least one site")
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		u, err := url.Parse(site.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sites[%d].url must be an absolute http(s) url, got %q", i, site.URL)
		}
		if _, dup := seen[site.URL]; dup {
			return fmt.Errorf("sites[%d].url %q is listed twice", i, site.URL)
		}
		seen[site.URL] = struct{}{}
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler.delay_ms must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.PoolSize < 0 {
		return fmt.Errorf("crawler.pool_size must be >= 0")
	}
	if c.Crawler.MaxRPSPerHost < 0 {
		return fmt.Errorf("crawler.max_rps_per_host must be >= 0")
	}
	if c.Aggregator.BatchSize <= 0 {
		return fmt.Errorf("aggregator.batch_size must be > 0")
	}
	if c.Search.FrequencyThreshold <= 0 || c.Search.FrequencyThreshold > 1 {
		return fmt.Errorf("search.frequency_threshold must be in (0, 1]")
	}
	switch c.Storage.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("storage.provider must be %q or %q, got %q", ProviderMemory, ProviderPostgres, c.Storage.Provider)
	}
	return nil
}

// Delay returns the politeness delay between fetches.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout returns the per-request fetch timeout.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MonitorInterval returns the period of the queue monitor loop.
func (c CrawlerConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// Idle returns how long the aggregator waits on an empty queue.
func (c AggregatorConfig) Idle() time.Duration {
	return time.Duration(c.IdleMs) * time.Millisecond
}

// Linger returns how long the aggregator waits to top up a short batch.
func (c AggregatorConfig) Linger() time.Duration {
	return time.Duration(c.LingerMs) * time.Millisecond
}
