// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. It is
// constructed once at process start and passed by reference into each
// component's constructor; no component reads ambient global state.
type Config struct {
	DB        DBConfig        `mapstructure:"database"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Export    ExportConfig    `mapstructure:"export"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	URL      string `mapstructure:"url"`
	Schema   string `mapstructure:"schema"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CrawlerConfig governs discovery and the crawl pipeline.
type CrawlerConfig struct {
	Concurrency  int      `mapstructure:"concurrency"`
	RateLimit    float64  `mapstructure:"rate_limit"`
	UserAgent    string   `mapstructure:"user_agent"`
	Fetcher      string   `mapstructure:"fetcher"`
	TestLimit    int      `mapstructure:"test_limit"`
	ListingURL   string   `mapstructure:"listing_url"`
	BaseURL      string   `mapstructure:"base_url"`
	BlockMarkers []string `mapstructure:"block_markers"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	ConnectTimeoutSeconds int   `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int   `mapstructure:"read_timeout_seconds"`
	MaxRetries            int   `mapstructure:"max_retries"`
	BackoffInitialMs      int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int   `mapstructure:"backoff_max_ms"`
	MaxAttachmentBytes    int64 `mapstructure:"max_attachment_bytes"`
}

// HeadlessConfig configures the browser-driven fetcher variant.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// ExportConfig sets the destination for export-pdfs.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// PDFConfig bounds second-stage text extraction.
type PDFConfig struct {
	MaxPages     int `mapstructure:"max_pages"`
	MaxTextBytes int `mapstructure:"max_text_bytes"`
}

// LLMConfig configures the feature-extraction model call.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	ProductType    string  `mapstructure:"product_type"`
}

// TelemetryConfig controls the optional metrics listener.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Fetcher capability tags selectable via crawler.fetcher.
const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short env names kept alongside the derived FDA_DATABASE_SCHEMA and
	// FDA_LLM_API_KEY forms.
	_ = v.BindEnv("database.schema", "FDA_DATABASE_SCHEMA", "FDA_SCHEMA_NAME")
	_ = v.BindEnv("llm.api_key", "FDA_LLM_API_KEY", "FDA_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

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
	v.SetDefault("database.schema", "source")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)

	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.rate_limit", 1.0)
	v.SetDefault("crawler.user_agent", "FDA-Harvester/1.0")
	v.SetDefault("crawler.fetcher", FetcherHTTP)
	v.SetDefault("crawler.test_limit", 0)
	v.SetDefault("crawler.listing_url", "https://www.fda.gov/files/api/datatables/static/search-for-guidance.json")
	v.SetDefault("crawler.base_url", "https://www.fda.gov")

	v.SetDefault("http.connect_timeout_seconds", 30)
	v.SetDefault("http.read_timeout_seconds", 60)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.max_attachment_bytes", 100*1024*1024)

	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)

	v.SetDefault("export.output_dir", "exported_pdfs")

	v.SetDefault("pdf.max_pages", 100)
	v.SetDefault("pdf.max_text_bytes", 400_000)

	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.product_type", "medical devices")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.port", 9090)

	v.SetDefault("logging.development", false)
}

// Validate enforces required values and prints actionable limits. Missing
// required values carry a remediation hint for the CLI to surface.
func (c Config) Validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("database.url is required (set FDA_DATABASE_URL to a postgres connection string)")
	}
	if c.DB.Schema == "" {
		return fmt.Errorf("database.schema must not be empty")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RateLimit <= 0 {
		return fmt.Errorf("crawler.rate_limit must be > 0 requests per second")
	}
	if c.Crawler.Fetcher != FetcherHTTP && c.Crawler.Fetcher != FetcherBrowser {
		return fmt.Errorf("crawler.fetcher must be %q or %q", FetcherHTTP, FetcherBrowser)
	}
	if c.HTTP.ConnectTimeoutSeconds <= 0 || c.HTTP.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.Crawler.Fetcher == FetcherBrowser && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when crawler.fetcher is %q", FetcherBrowser)
	}
	return nil
}

// ConnectTimeout returns the dial timeout as a duration.
func (c HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the full-request timeout as a duration.
func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
