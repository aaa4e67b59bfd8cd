// Package config handles engine configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Environment variables (HAMON_*, OP_CONNECT_*)
// 2. Config file (YAML)
// 3. Defaults
//
// String values may be secret references (op://item/field, env:NAME);
// ResolveSecrets replaces them before use.
//
// # Example Config File
//
//	database:
//	  url: op://engine-db/url
//	metric_store:
//	  backend: timescale
//	redis:
//	  url: redis://localhost:6379/0
//	notify:
//	  backend: smtp
//	  smtp:
//	    host: smtp.example.com
//	    username: alarms
//	    password: op://smtp/password
//	    from: alarms@example.com
//	jobs:
//	  health_interval: 1m
//	  analyze_interval: 5m
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pilot-net/hamon/engine/internal/logging"
	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/engine/internal/notify"
	"github.com/pilot-net/hamon/engine/internal/secrets"
)

// Metric store backends.
const (
	MetricStoreTimescale  = "timescale"
	MetricStoreClickHouse = "clickhouse"
	MetricStoreMemory     = "memory"
)

// Cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

// Notifier backends.
const (
	NotifySMTP = "smtp"
	NotifyLog  = "log"
)

// Config is the complete engine configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	MetricStore MetricStoreConfig `yaml:"metric_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Cache       CacheConfig       `yaml:"cache"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	HealthCheck HealthCheckConfig `yaml:"healthcheck"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Notify      NotifyConfig      `yaml:"notify"`
	API         APIConfig         `yaml:"api"`
	Logging     logging.Config    `yaml:"logging"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// DatabaseConfig defines the relational store connection.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// MetricStoreConfig selects and configures the metric store.
type MetricStoreConfig struct {
	Backend    string                       `yaml:"backend"`
	ClickHouse metricstore.ClickHouseConfig `yaml:"clickhouse"`
}

// RedisConfig enables the metric write buffer. An empty URL writes
// straight to the metric store.
type RedisConfig struct {
	URL           string        `yaml:"url"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushBatch    int           `yaml:"flush_batch"`
}

// CacheConfig configures configuration lookups caching.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// AnalyzerConfig defines evaluation settings.
type AnalyzerConfig struct {
	Lookback time.Duration `yaml:"lookback"`
}

// HealthCheckConfig defines frontend probe settings.
type HealthCheckConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	ContentMarker string        `yaml:"content_marker"`
}

// JobsConfig defines periodic job schedules.
type JobsConfig struct {
	HealthInterval   time.Duration `yaml:"health_interval"`
	AnalyzeInterval  time.Duration `yaml:"analyze_interval"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	ChunkSize        int           `yaml:"chunk_size"`
	AnalyzeAfterPing bool          `yaml:"analyze_after_ping"`
}

// NotifyConfig selects the notifier.
type NotifyConfig struct {
	Backend   string            `yaml:"backend"`
	SMTP      notify.SMTPConfig `yaml:"smtp"`
	BatchSize int               `yaml:"batch_size"`
}

// APIConfig defines the ingest API listener.
type APIConfig struct {
	Listen string `yaml:"listen"`

	// MaxBodyBytes caps a decompressed request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	OnePassword secrets.OnePasswordConfig `yaml:"onepassword"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:      "postgres://localhost:5432/hamon?sslmode=disable",
			MaxConns: 10,
		},
		MetricStore: MetricStoreConfig{
			Backend: MetricStoreTimescale,
			ClickHouse: metricstore.ClickHouseConfig{
				Addr:     []string{"localhost:9000"},
				Database: "default",
				Username: "default",
			},
		},
		Redis: RedisConfig{
			FlushInterval: BufferFlushInterval,
			FlushBatch:    BufferFlushBatchSize,
		},
		Cache: CacheConfig{
			Backend: CacheMemory,
			TTL:     30 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			Lookback: DefaultLookback,
		},
		HealthCheck: HealthCheckConfig{
			Timeout:       ProbeTimeoutCap,
			ContentMarker: "Home Assistant",
		},
		Jobs: JobsConfig{
			HealthInterval:   time.Minute,
			AnalyzeInterval:  5 * time.Minute,
			DispatchInterval: time.Minute,
			ChunkSize:        ChunkSize,
			AnalyzeAfterPing: true,
		},
		Notify: NotifyConfig{
			Backend: NotifyLog,
			SMTP: notify.SMTPConfig{
				Port:          587,
				From:          "alarms@hamon.local",
				RatePerMinute: 60,
			},
			BatchSize: 500,
		},
		API: APIConfig{
			Listen:       ":8080",
			MaxBodyBytes: 10 << 20,
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - HAMON_DATABASE_URL
//   - HAMON_METRIC_STORE (timescale, clickhouse, memory)
//   - HAMON_CLICKHOUSE_ADDR (comma separated)
//   - HAMON_REDIS_URL
//   - HAMON_CACHE (redis, memory, none)
//   - HAMON_LOOKBACK (duration)
//   - HAMON_NOTIFY (smtp, log)
//   - HAMON_SMTP_HOST, HAMON_SMTP_PORT, HAMON_SMTP_USERNAME, HAMON_SMTP_PASSWORD, HAMON_SMTP_FROM
//   - HAMON_LISTEN
//   - HAMON_DEBUG (true/false)
//   - HAMON_SENTRY_DSN
//   - OP_CONNECT_HOST, OP_CONNECT_TOKEN, OP_VAULT_ID
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Database.URL, "HAMON_DATABASE_URL")
	setString(&c.MetricStore.Backend, "HAMON_METRIC_STORE")
	if v := os.Getenv("HAMON_CLICKHOUSE_ADDR"); v != "" {
		c.MetricStore.ClickHouse.Addr = strings.Split(v, ",")
	}
	setString(&c.Redis.URL, "HAMON_REDIS_URL")
	setString(&c.Cache.Backend, "HAMON_CACHE")
	if v := os.Getenv("HAMON_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Analyzer.Lookback = d
		}
	}
	setString(&c.Notify.Backend, "HAMON_NOTIFY")
	setString(&c.Notify.SMTP.Host, "HAMON_SMTP_HOST")
	if v := os.Getenv("HAMON_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Notify.SMTP.Port = port
		}
	}
	setString(&c.Notify.SMTP.Username, "HAMON_SMTP_USERNAME")
	setString(&c.Notify.SMTP.Password, "HAMON_SMTP_PASSWORD")
	setString(&c.Notify.SMTP.From, "HAMON_SMTP_FROM")
	setString(&c.API.Listen, "HAMON_LISTEN")
	if v := os.Getenv("HAMON_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
	setString(&c.Logging.SentryDSN, "HAMON_SENTRY_DSN")
	setString(&c.Secrets.OnePassword.Host, "OP_CONNECT_HOST")
	setString(&c.Secrets.OnePassword.Token, "OP_CONNECT_TOKEN")
	setString(&c.Secrets.OnePassword.VaultID, "OP_VAULT_ID")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.MetricStore.Backend {
	case MetricStoreTimescale, MetricStoreMemory:
	case MetricStoreClickHouse:
		if len(c.MetricStore.ClickHouse.Addr) == 0 {
			errs = append(errs, errors.New("metric_store.clickhouse.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metric_store.backend %q", c.MetricStore.Backend))
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("cache.backend redis needs redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Analyzer.Lookback <= 0 {
		errs = append(errs, errors.New("analyzer.lookback must be positive"))
	}
	if c.HealthCheck.Timeout <= 0 || c.HealthCheck.Timeout > ProbeTimeoutCap {
		errs = append(errs, fmt.Errorf("healthcheck.timeout must be in (0, %s]", ProbeTimeoutCap))
	}
	if c.Jobs.HealthInterval <= 0 || c.Jobs.AnalyzeInterval <= 0 || c.Jobs.DispatchInterval <= 0 {
		errs = append(errs, errors.New("jobs intervals must be positive"))
	}
	if c.Jobs.ChunkSize <= 0 {
		errs = append(errs, errors.New("jobs.chunk_size must be positive"))
	}
	switch c.Notify.Backend {
	case NotifyLog:
	case NotifySMTP:
		if c.Notify.SMTP.Host == "" {
			errs = append(errs, errors.New("notify.smtp.host is required"))
		}
		if c.Notify.SMTP.From == "" {
			errs = append(errs, errors.New("notify.smtp.from is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.backend %q", c.Notify.Backend))
	}
	if c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required"))
	}
	return errors.Join(errs...)
}

// Resolver resolves secret references.
type Resolver interface {
	ResolveAll(ctx context.Context, values ...*string) error
}

// ResolveSecrets replaces secret references in every credential field.
func (c *Config) ResolveSecrets(ctx context.Context, r Resolver) error {
	if err := r.ResolveAll(ctx,
		&c.Database.URL,
		&c.MetricStore.ClickHouse.Password,
		&c.Redis.URL,
		&c.Notify.SMTP.Username,
		&c.Notify.SMTP.Password,
		&c.Logging.SentryDSN,
	); err != nil {
		return fmt.Errorf("resolving secrets: %w", err)
	}
	return nil
}
