// Package config loads and validates summarizer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SUMMARIZER_SERVER_PORT.
const EnvPrefix = "SUMMARIZER"

// Backend and provider names.
const (
	BackendColly     = "colly"
	BackendHeadless  = "headless"
	BackendFirecrawl = "firecrawl"

	StorageLocal    = "local"
	StorageMemory   = "memory"
	StorageGCS      = "gcs"
	StoragePostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Firecrawl  FirecrawlConfig  `mapstructure:"firecrawl"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines the optional API key check.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig tunes a single summarization run.
type PipelineConfig struct {
	MaxLinks                 int      `mapstructure:"max_links"`
	BatchSize                int      `mapstructure:"batch_size"`
	ContentMaxChars          int      `mapstructure:"content_max_chars"`
	FallbackDescriptionChars int      `mapstructure:"fallback_description_chars"`
	RetryBudget              int      `mapstructure:"retry_budget"`
	RetryBackoffMs           int      `mapstructure:"retry_backoff_ms"`
	RetryBackoffMaxMs        int      `mapstructure:"retry_backoff_max_ms"`
	AllowSubdomains          bool     `mapstructure:"allow_subdomains"`
	AllowedHosts             []string `mapstructure:"allowed_hosts"`
}

// JobsConfig bounds background execution.
type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// DiscoveryConfig selects how links are discovered and how pages are requested.
type DiscoveryConfig struct {
	Backend        string `mapstructure:"backend"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// FetchConfig selects the content backend.
type FetchConfig struct {
	Backend     string `mapstructure:"backend"`
	Parallelism int    `mapstructure:"parallelism"`
}

// HeadlessConfig configures the headless rendering backend.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// FirecrawlConfig configures the Firecrawl backend.
type FirecrawlConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

// RateLimitConfig paces requests per host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// SummarizerConfig selects the text-generation service.
type SummarizerConfig struct {
	Provider       string `mapstructure:"provider"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig lists result sinks and their settings.
type StorageConfig struct {
	Backends []string          `mapstructure:"backends"`
	Local    LocalStorageConfig `mapstructure:"local"`
	GCS      GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig points at the result file.
type LocalStorageConfig struct {
	Path string `mapstructure:"path"`
}

// GCSStorageConfig names the result bucket.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig controls span export to Google Cloud Trace.
type TracingConfig struct {
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps environment names used by earlier deployments to keys.
var legacyEnv = map[string]string{
	"pipeline.max_links":  "URL_LIMIT",
	"pipeline.batch_size": "BATCH_LIMIT",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey(key), env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

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
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_seconds", 30)
	v.SetDefault("pipeline.max_links", 10)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.content_max_chars", 2000)
	v.SetDefault("pipeline.fallback_description_chars", 200)
	v.SetDefault("pipeline.retry_budget", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 0)
	v.SetDefault("pipeline.retry_backoff_max_ms", 5000)
	v.SetDefault("pipeline.allow_subdomains", false)
	v.SetDefault("pipeline.allowed_hosts", []string{})
	v.SetDefault("jobs.max_concurrent", 0)
	v.SetDefault("discovery.backend", BackendColly)
	v.SetDefault("discovery.user_agent", "site-summarizer/0.1")
	v.SetDefault("discovery.timeout_seconds", 15)
	v.SetDefault("discovery.respect_robots", true)
	v.SetDefault("fetch.backend", BackendColly)
	v.SetDefault("fetch.parallelism", 4)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("firecrawl.poll_interval_seconds", 2)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2)
	v.SetDefault("rate_limit.default_burst", 4)
	v.SetDefault("summarizer.provider", "gemini")
	v.SetDefault("summarizer.model", "gemini-2.5-flash")
	v.SetDefault("summarizer.timeout_seconds", 60)
	v.SetDefault("storage.backends", []string{StorageLocal})
	v.SetDefault("storage.local.path", "scraped_data.json")
	v.SetDefault("storage.gcs.prefix", "summaries")
	v.SetDefault("db.table", "site_summaries")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "summarizer-jobs")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// normalize lowercases enum values. Comma separated env values for lists
// arrive as a single element and are split here.
func (c *Config) normalize() {
	c.Discovery.Backend = strings.ToLower(strings.TrimSpace(c.Discovery.Backend))
	c.Fetch.Backend = strings.ToLower(strings.TrimSpace(c.Fetch.Backend))
	c.Summarizer.Provider = strings.ToLower(strings.TrimSpace(c.Summarizer.Provider))
	c.Storage.Backends = splitList(c.Storage.Backends, true)
	c.Pipeline.AllowedHosts = splitList(c.Pipeline.AllowedHosts, true)
}

func splitList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if lower {
				part = strings.ToLower(part)
			}
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.MaxLinks <= 0 {
		return fmt.Errorf("pipeline.max_links must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.ContentMaxChars <= 0 {
		return fmt.Errorf("pipeline.content_max_chars must be > 0")
	}
	if c.Pipeline.RetryBudget < 0 {
		return fmt.Errorf("pipeline.retry_budget must be >= 0")
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("jobs.max_concurrent must be >= 0")
	}
	switch c.Discovery.Backend {
	case BackendColly, BackendHeadless, BackendFirecrawl:
	default:
		return fmt.Errorf("discovery.backend %q is not one of colly, headless, firecrawl", c.Discovery.Backend)
	}
	switch c.Fetch.Backend {
	case BackendColly, BackendHeadless, BackendFirecrawl:
	default:
		return fmt.Errorf("fetch.backend %q is not one of colly, headless, firecrawl", c.Fetch.Backend)
	}
	if c.Discovery.TimeoutSeconds <= 0 {
		return fmt.Errorf("discovery.timeout_seconds must be > 0")
	}
	if c.usesBackend(BackendHeadless) && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is used")
	}
	if c.usesBackend(BackendFirecrawl) && c.Firecrawl.APIKey == "" {
		return fmt.Errorf("firecrawl.api_key must be set when firecrawl is used")
	}
	if c.Summarizer.APIKey == "" {
		return fmt.Errorf("summarizer.api_key must be set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if len(c.Storage.Backends) == 0 {
		return fmt.Errorf("storage.backends must list at least one sink")
	}
	for _, backend := range c.Storage.Backends {
		switch backend {
		case StorageLocal, StorageMemory:
		case StorageGCS:
			if c.Storage.GCS.Bucket == "" {
				return fmt.Errorf("storage.gcs.bucket must be set for the gcs sink")
			}
		case StoragePostgres:
			if c.DB.DSN == "" {
				return fmt.Errorf("db.dsn must be set for the postgres sink")
			}
		default:
			return fmt.Errorf("storage backend %q is not one of local, memory, gcs, postgres", backend)
		}
	}
	return nil
}

func (c Config) usesBackend(name string) bool {
	return c.Discovery.Backend == name || c.Fetch.Backend == name
}

// RetryBackoff returns the base delay between stage re-entries.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMs) * time.Millisecond
}

// RetryBackoffMax caps RetryBackoff growth.
func (c Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMaxMs) * time.Millisecond
}

// RequestTimeout bounds asynchronous API handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds the graceful drain of HTTP and jobs.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
