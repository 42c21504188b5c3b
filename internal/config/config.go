// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SITESEARCH_CRAWLER_TARGET_PAGES.
const EnvPrefix = "SITESEARCH"

// MaxConcurrency bounds the crawl worker pool.
const MaxConcurrency = 16

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	AllowedOrigin         string `mapstructure:"allowed_origin"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// CrawlerConfig governs the coordinator, workers and content analysis.
type CrawlerConfig struct {
	Seeds                []string `mapstructure:"seeds"`
	TargetPages          int      `mapstructure:"target_pages"`
	KeywordLimit         int      `mapstructure:"keyword_limit"`
	DescriptionMaxLength int      `mapstructure:"description_max_length"`
	MaxLinksPerPage      int      `mapstructure:"max_links_per_page"`
	BlockedHosts         []string `mapstructure:"blocked_hosts"`
	Concurrency          int      `mapstructure:"concurrency"`
	UserAgent            string   `mapstructure:"user_agent"`
	RespectRobots        bool     `mapstructure:"respect_robots"`
	VerifyTimeoutSeconds int      `mapstructure:"verify_timeout_seconds"`
	VerifyParallelism    int      `mapstructure:"verify_parallelism"`
}

// HTTPConfig configures page fetch timeouts and retries.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures JavaScript rendering.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// RateLimitConfig configures per-host politeness.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// Supported db.driver values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DBConfig selects and tunes the frontier/index store.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	ResetOnStart           bool   `mapstructure:"reset_on_start"`
}

// Supported archive.backend values.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// ArchiveConfig controls where raw page snapshots go.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds the topic crawl events are published to. Publishing is off without a project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.Archive.Backend = strings.ToLower(strings.TrimSpace(cfg.Archive.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("crawler.seeds", []string{
		"https://www.emich.edu",
		"https://annarbornews.com",
		"https://www.whitehouse.gov",
	})
	v.SetDefault("crawler.target_pages", 500)
	v.SetDefault("crawler.keyword_limit", 10)
	v.SetDefault("crawler.description_max_length", 200)
	v.SetDefault("crawler.max_links_per_page", 50)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.verify_timeout_seconds", 30)
	v.SetDefault("crawler.verify_parallelism", 0)
	v.SetDefault("http.timeout_seconds", 5)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 20)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.reset_on_start", true)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "crawl-events")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if len(c.Crawler.Seeds) == 0 {
		errs = append(errs, errors.New("crawler.seeds must list at least one url"))
	}
	for _, seed := range c.Crawler.Seeds {
		if _, err := crawler.NormalizeURL(seed); err != nil {
			errs = append(errs, fmt.Errorf("crawler.seeds: %w", err))
		}
	}
	if c.Crawler.TargetPages <= 0 {
		errs = append(errs, errors.New("crawler.target_pages must be > 0"))
	}
	if c.Crawler.KeywordLimit <= 0 {
		errs = append(errs, errors.New("crawler.keyword_limit must be > 0"))
	}
	if c.Crawler.DescriptionMaxLength <= 0 {
		errs = append(errs, errors.New("crawler.description_max_length must be > 0"))
	}
	if c.Crawler.MaxLinksPerPage < 0 {
		errs = append(errs, errors.New("crawler.max_links_per_page must be >= 0"))
	}
	if c.Crawler.Concurrency < 1 || c.Crawler.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("crawler.concurrency must be in 1..%d", MaxConcurrency))
	}
	if c.Crawler.VerifyTimeoutSeconds < 0 || c.Crawler.VerifyParallelism < 0 {
		errs = append(errs, errors.New("crawler.verify_timeout_seconds and crawler.verify_parallelism must be >= 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must be >= 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.DB.DSN) == "" {
			errs = append(errs, fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver must be one of postgres, sqlite, memory; got %q", c.DB.Driver))
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local backend"))
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be one of none, memory, local, gcs; got %q", c.Archive.Backend))
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		errs = append(errs, errors.New("pubsub.topic_name is required when pubsub.project_id is set"))
	}
	return errors.Join(errs...)
}

// FetchTimeout is the per-attempt page fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBounds returns the retry backoff base and cap.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// VerifyTimeout bounds one phrase search fan-out.
func (c Config) VerifyTimeout() time.Duration {
	return time.Duration(c.Crawler.VerifyTimeoutSeconds) * time.Second
}
