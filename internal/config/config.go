package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables overriding the configuration.
// Nested keys are separated by a double underscore: PODPROXY_CACHE__TTL sets cache.ttl.
const EnvPrefix = "PODPROXY_"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Store    StoreConfig    `yaml:"store"`
	Upstream UpstreamConfig `yaml:"upstream"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	TTL          string `yaml:"ttl"`
	WriteTimeout string `yaml:"write_timeout"`
}

// StoreConfig selects and configures the persistent record store
type StoreConfig struct {
	Driver string       `yaml:"driver"` // "memory", "disk", "mongo", "redis" or "sqlite"
	Disk   DiskConfig   `yaml:"disk"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type DiskConfig struct {
	Folder string `yaml:"folder"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig controls outbound requests to the search API and feeds
type UpstreamConfig struct {
	SearchEndpoint string `yaml:"search_endpoint"`
	UserAgent      string `yaml:"user_agent"`
	Timeout        string `yaml:"timeout"`
	ProxyURL       string `yaml:"proxy_url"`
}

// NATSConfig enables publication of cache refresh events when URL is set
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Cache: CacheConfig{
			TTL:          "24h",
			WriteTimeout: "10s",
		},
		Store: StoreConfig{
			Driver: "disk",
			Disk:   DiskConfig{Folder: "cache"},
			Mongo:  MongoConfig{Database: "podcast-proxy"},
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "podcast-proxy"},
			SQLite: SQLiteConfig{Path: "cache.sqlite3"},
		},
		Upstream: UpstreamConfig{
			SearchEndpoint: "https://itunes.apple.com/search?media=podcast&term=",
			UserAgent:      "Mozilla/5.0",
			Timeout:        "30s",
		},
		NATS: NATSConfig{
			Subject: "podcast-proxy.cache.refreshed",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (skipped when
// path is empty), then PODPROXY_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// envKey maps PODPROXY_UPSTREAM__PROXY_URL to upstream.proxy_url
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// GetCacheTTL parses and returns the cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// GetWriteTimeout parses the timeout applied to each background cache write
func (c *Config) GetWriteTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Cache.WriteTimeout)
}

// GetUpstreamTimeout parses the timeout of outbound requests
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Upstream.Timeout)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Cache.TTL == "" {
		return fmt.Errorf("cache TTL is required")
	}
	ttl, err := c.GetCacheTTL()
	if err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive, got: %s", c.Cache.TTL)
	}

	if _, err := c.GetWriteTimeout(); err != nil {
		return fmt.Errorf("invalid cache write timeout format: %w", err)
	}

	if err := c.Store.validate(); err != nil {
		return err
	}

	if c.Upstream.SearchEndpoint == "" {
		return fmt.Errorf("upstream search endpoint is required")
	}
	if _, err := url.ParseRequestURI(c.Upstream.SearchEndpoint); err != nil {
		return fmt.Errorf("invalid upstream search endpoint: %w", err)
	}
	if _, err := c.GetUpstreamTimeout(); err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}
	if c.Upstream.ProxyURL != "" {
		if _, err := url.Parse(c.Upstream.ProxyURL); err != nil {
			return fmt.Errorf("invalid upstream proxy URL: %w", err)
		}
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats subject is required when nats url is set")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "memory":
	case "disk":
		if s.Disk.Folder == "" {
			return fmt.Errorf("disk store folder is required")
		}
	case "mongo":
		if s.Mongo.URI == "" {
			return fmt.Errorf("mongo store uri is required")
		}
		if s.Mongo.Database == "" {
			return fmt.Errorf("mongo store database is required")
		}
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis store addr is required")
		}
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite store path is required")
		}
	default:
		return fmt.Errorf("store driver must be one of memory, disk, mongo, redis, sqlite, got: %s", s.Driver)
	}
	return nil
}
