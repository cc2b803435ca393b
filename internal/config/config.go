package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	TTL       TTLConfig       `yaml:"ttl" mapstructure:"ttl"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory | sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourcesConfig holds per-source credentials and endpoints.
type SourcesConfig struct {
	News       NewsConfig       `yaml:"news" mapstructure:"news"`
	WebSearch  WebSearchConfig  `yaml:"websearch" mapstructure:"websearch"`
	HackerNews HackerNewsConfig `yaml:"hackernews" mapstructure:"hackernews"`
	Mastodon   MastodonConfig   `yaml:"mastodon" mapstructure:"mastodon"`
	WebScrape  WebScrapeConfig  `yaml:"webscrape" mapstructure:"webscrape"`
	Reddit     RedditConfig     `yaml:"reddit" mapstructure:"reddit"`
	Twitter    TwitterConfig    `yaml:"twitter" mapstructure:"twitter"`
}

// NewsConfig configures the news search API source.
type NewsConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// WebSearchConfig configures the web search API source.
type WebSearchConfig struct {
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// HackerNewsConfig configures the Hacker News search source.
type HackerNewsConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	QueryDelayMs int    `yaml:"query_delay_ms" mapstructure:"query_delay_ms"`
}

// MastodonConfig configures the Mastodon public search source.
type MastodonConfig struct {
	InstanceURL  string `yaml:"instance_url" mapstructure:"instance_url"`
	QueryDelayMs int    `yaml:"query_delay_ms" mapstructure:"query_delay_ms"`
}

// WebScrapeConfig configures the HTML scrape source.
type WebScrapeConfig struct {
	SearchURL string   `yaml:"search_url" mapstructure:"search_url"`
	Sites     []string `yaml:"sites" mapstructure:"sites"`
}

// RedditConfig configures the Reddit JSON API source.
type RedditConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// TwitterConfig configures the Twitter source (pending real integration).
type TwitterConfig struct {
	BearerToken string `yaml:"bearer_token" mapstructure:"bearer_token"`
}

// PipelineConfig configures cycle scheduling and batching.
type PipelineConfig struct {
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	RunOnStart       bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
	ChunkSize        int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	OrgID            string `yaml:"org_id" mapstructure:"org_id"`
	MaxConcurrent    int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// RetryConfig configures the shared retry-with-backoff policy.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMs  int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
}

// Backoff returns the base backoff duration.
func (r RetryConfig) Backoff() time.Duration { return time.Duration(r.BackoffMs) * time.Millisecond }

// TTLConfig bounds the lifetime of durable state, in seconds.
type TTLConfig struct {
	MentionSecs   int `yaml:"mention_secs" mapstructure:"mention_secs"`
	BatchSecs     int `yaml:"batch_secs" mapstructure:"batch_secs"`
	QueueSecs     int `yaml:"queue_secs" mapstructure:"queue_secs"`
	BrandMetaSecs int `yaml:"brand_meta_secs" mapstructure:"brand_meta_secs"`
}

// Mention returns the mention list TTL.
func (t TTLConfig) Mention() time.Duration { return time.Duration(t.MentionSecs) * time.Second }

// Batch returns the batch counter TTL.
func (t TTLConfig) Batch() time.Duration { return time.Duration(t.BatchSecs) * time.Second }

// Queue returns the envelope queue TTL.
func (t TTLConfig) Queue() time.Duration { return time.Duration(t.QueueSecs) * time.Second }

// BrandMeta returns the brand metadata TTL.
func (t TTLConfig) BrandMeta() time.Duration { return time.Duration(t.BrandMetaSecs) * time.Second }

// RateLimitConfig configures the per-source sliding window limiter.
type RateLimitConfig struct {
	Requests int `yaml:"requests" mapstructure:"requests"`
	WindowMs int `yaml:"window_ms" mapstructure:"window_ms"`
}

// Window returns the sliding window duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// HTTPConfig configures outbound HTTP behavior.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the control surface server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MENTIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mentions.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.poll_interval_secs", 900)
	v.SetDefault("pipeline.run_on_start", false)
	v.SetDefault("pipeline.chunk_size", 100)
	v.SetDefault("pipeline.org_id", "system")
	v.SetDefault("pipeline.max_concurrent", 4)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_ms", 500)
	v.SetDefault("ttl.mention_secs", 86400)
	v.SetDefault("ttl.batch_secs", 600)
	v.SetDefault("ttl.queue_secs", 86400)
	v.SetDefault("ttl.brand_meta_secs", 86400)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window_ms", 10000)
	v.SetDefault("http.user_agent", "mentions-pipeline/1.0")
	v.SetDefault("http.timeout_secs", 20)
	v.SetDefault("sources.news.base_url", "https://newsapi.org/v2")
	v.SetDefault("sources.websearch.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("sources.hackernews.base_url", "https://hn.algolia.com/api/v1")
	v.SetDefault("sources.hackernews.query_delay_ms", 1000)
	v.SetDefault("sources.mastodon.instance_url", "https://mastodon.social")
	v.SetDefault("sources.mastodon.query_delay_ms", 1000)
	v.SetDefault("sources.webscrape.search_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("sources.webscrape.sites", []string{"twitter.com", "facebook.com", "youtube.com"})
	v.SetDefault("sources.reddit.base_url", "https://www.reddit.com")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
