// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Bookmark BookmarkConfig `mapstructure:"bookmark"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Index    IndexConfig    `mapstructure:"index"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig controls webhook authentication.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BookmarkConfig controls ingestion behavior. MonitoredHandles seeds the
// tag registry at startup; additional handles can be registered at runtime
// through the tags API.
type BookmarkConfig struct {
	TagPhrases       []string `mapstructure:"tag_phrases"`
	MirrorDomain     string   `mapstructure:"mirror_domain"`
	MonitoredHandles []string `mapstructure:"monitored_handles"`
}

// ScrapeConfig controls the scrape provider.
type ScrapeConfig struct {
	Provider         string `mapstructure:"provider"`
	Endpoint         string `mapstructure:"endpoint"`
	APIKey           string `mapstructure:"api_key"`
	WaitForMs        int    `mapstructure:"wait_for_ms"`
	Quality          int    `mapstructure:"quality"`
	ViewportWidth    int    `mapstructure:"viewport_width"`
	ViewportHeight   int    `mapstructure:"viewport_height"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	MaxParallel      int    `mapstructure:"max_parallel"`
}

// StorageConfig controls the screenshot blob store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls record persistence.
type DBConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// PubSubConfig controls the enrichment queue backend.
type PubSubConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// IndexConfig controls the embedding/search service client.
type IndexConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EnrichConfig controls background enrichment workers.
type EnrichConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PANDAMARK")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("bookmark.tag_phrases", []string{
		"@usepanda_ bookmark this",
		"usepanda_ bookmark this",
	})
	v.SetDefault("bookmark.mirror_domain", "xcancel.com")
	v.SetDefault("bookmark.monitored_handles", []string{})
	v.SetDefault("scrape.provider", "firecrawl")
	v.SetDefault("scrape.wait_for_ms", 1000)
	v.SetDefault("scrape.quality", 90)
	v.SetDefault("scrape.viewport_width", 1272)
	v.SetDefault("scrape.viewport_height", 682)
	v.SetDefault("scrape.timeout_seconds", 30)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.backoff_initial_ms", 250)
	v.SetDefault("scrape.backoff_max_ms", 2000)
	v.SetDefault("scrape.max_parallel", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.content_type", "image/png")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("index.timeout_seconds", 30)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if len(c.Bookmark.TagPhrases) == 0 {
		return fmt.Errorf("bookmark.tag_phrases must not be empty")
	}
	switch c.Scrape.Provider {
	case "firecrawl":
		// The API key is enforced by the firecrawl client constructor so
		// that local development with the chromedp provider needs no key.
	case "chromedp":
		if c.Scrape.MaxParallel <= 0 {
			return fmt.Errorf("scrape.max_parallel must be > 0 for the chromedp provider")
		}
	default:
		return fmt.Errorf("unknown scrape.provider %q", c.Scrape.Provider)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown db.backend %q", c.DB.Backend)
	}
	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" || c.PubSub.TopicID == "" || c.PubSub.SubscriptionID == "" {
			return fmt.Errorf("pubsub.project_id, topic_id, and subscription_id are required when pubsub is enabled")
		}
	}
	if c.Enrich.Concurrency <= 0 {
		return fmt.Errorf("enrich.concurrency must be > 0")
	}
	return nil
}

// ServerTimeout returns the HTTP request timeout as a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ScrapeTimeout returns the per-scrape timeout as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}
