package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/price-research-scraper/internal/browser"
	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/pipeline"
	"github.com/maltedev/price-research-scraper/internal/stats"
)

const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

type Config struct {
	Fetcher  FetcherConfig
	Browser  BrowserConfig
	Pipeline PipelineConfig
	Stats    StatsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type FetcherConfig struct {
	Mode              string
	ListingBaseURL    string
	Timeout           time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffJitter     time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
	RequestsPerSecond float64
	UserAgents        []string
	ProxyURL          string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type PipelineConfig struct {
	Tolerance             float64
	MaxOffers             int
	TermConcurrency       int
	ClassifierConcurrency int
	MaxAlternatives       int
	MinMargin             float64
}

type StatsConfig struct {
	IQRMultiplier float64
	MinSample     int
}

// DatabaseConfig is optional; an empty URL disables persistence.
type DatabaseConfig struct {
	URL string
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// RedisConfig is optional; an empty Addr disables the HTML cache and the relay.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
	Stream   string
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type StorageConfig struct {
	ReportDir string
}

type MetricsConfig struct {
	Addr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	fd := fetcher.DefaultOptions()
	bd := browser.DefaultOptions()
	pd := pipeline.DefaultOptions()

	cfg := &Config{
		Fetcher: FetcherConfig{
			Mode:              getEnvOrDefault("FETCHER_MODE", ModeHTTP),
			ListingBaseURL:    getEnvOrDefault("LISTING_BASE_URL", matcher.DefaultListingBaseURL),
			Timeout:           getDurationOrDefault("FETCHER_TIMEOUT", fd.Timeout),
			MaxAttempts:       getIntOrDefault("FETCHER_MAX_ATTEMPTS", fd.MaxAttempts),
			BaseDelay:         getDurationOrDefault("FETCHER_BASE_DELAY", fd.BaseDelay),
			BackoffJitter:     getDurationOrDefault("FETCHER_BACKOFF_JITTER", fd.BackoffJitter),
			JitterMin:         getDurationOrDefault("FETCHER_JITTER_MIN", fd.JitterMin),
			JitterMax:         getDurationOrDefault("FETCHER_JITTER_MAX", fd.JitterMax),
			RequestsPerSecond: getFloatOrDefault("FETCHER_REQUESTS_PER_SECOND", 0),
			UserAgents:        getStringSliceOrDefault("FETCHER_USER_AGENTS", defaultUserAgents()),
			ProxyURL:          getEnvOrDefault("FETCHER_PROXY_URL", ""),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", bd.Headless),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", bd.Timeout),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", bd.ViewportWidth),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", bd.ViewportHeight),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", bd.AcceptLanguage),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", bd.TimezoneID),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", bd.Locale),
		},
		Pipeline: PipelineConfig{
			Tolerance:             getFloatOrDefault("PIPELINE_TOLERANCE", pd.Tolerance),
			MaxOffers:             getIntOrDefault("PIPELINE_MAX_OFFERS", pd.MaxOffers),
			TermConcurrency:       getIntOrDefault("PIPELINE_TERM_CONCURRENCY", pd.TermConcurrency),
			ClassifierConcurrency: getIntOrDefault("PIPELINE_CLASSIFIER_CONCURRENCY", pd.ClassifierConcurrency),
			MaxAlternatives:       getIntOrDefault("PIPELINE_MAX_ALTERNATIVES", pd.MaxAlternatives),
			MinMargin:             getFloatOrDefault("PIPELINE_MIN_MARGIN", pd.MinMargin),
		},
		Stats: StatsConfig{
			IQRMultiplier: getFloatOrDefault("STATS_IQR_MULTIPLIER", stats.DefaultIQRMultiplier),
			MinSample:     getIntOrDefault("STATS_MIN_SAMPLE", stats.DefaultMinSample),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			CacheTTL: getDurationOrDefault("REDIS_CACHE_TTL", 30*time.Minute),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:price_research"),
		},
		Storage: StorageConfig{
			ReportDir: getEnvOrDefault("REPORT_DIR", "reports"),
		},
		Metrics: MetricsConfig{
			Addr: getEnvOrDefault("METRICS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Fetcher.Mode {
	case ModeHTTP, ModeBrowser:
	default:
		return fmt.Errorf("FETCHER_MODE must be %q or %q, got %q", ModeHTTP, ModeBrowser, c.Fetcher.Mode)
	}

	if c.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("FETCHER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Fetcher.JitterMin > c.Fetcher.JitterMax {
		return fmt.Errorf("FETCHER_JITTER_MIN cannot be greater than FETCHER_JITTER_MAX")
	}

	if c.Fetcher.RequestsPerSecond < 0 {
		return fmt.Errorf("FETCHER_REQUESTS_PER_SECOND cannot be negative")
	}

	if c.Pipeline.Tolerance <= 0 || c.Pipeline.Tolerance >= 1 {
		return fmt.Errorf("PIPELINE_TOLERANCE must be between 0 and 1, got %v", c.Pipeline.Tolerance)
	}

	if c.Pipeline.MaxOffers < 1 {
		return fmt.Errorf("PIPELINE_MAX_OFFERS must be at least 1")
	}

	if c.Pipeline.TermConcurrency < 1 || c.Pipeline.ClassifierConcurrency < 1 {
		return fmt.Errorf("PIPELINE_TERM_CONCURRENCY and PIPELINE_CLASSIFIER_CONCURRENCY must be at least 1")
	}

	if c.Pipeline.MaxAlternatives < 0 {
		return fmt.Errorf("PIPELINE_MAX_ALTERNATIVES cannot be negative")
	}

	if c.Stats.IQRMultiplier <= 0 {
		return fmt.Errorf("STATS_IQR_MULTIPLIER must be positive")
	}

	if c.Stats.MinSample < 2 {
		return fmt.Errorf("STATS_MIN_SAMPLE must be at least 2")
	}

	if len(c.Fetcher.UserAgents) == 0 {
		return fmt.Errorf("FETCHER_USER_AGENTS cannot be empty")
	}

	return nil
}

// FetcherOptions maps the fetcher section onto fetcher.Options.
func (c *Config) FetcherOptions() fetcher.Options {
	opts := fetcher.DefaultOptions()
	opts.UserAgents = c.Fetcher.UserAgents
	opts.Timeout = c.Fetcher.Timeout
	opts.MaxAttempts = c.Fetcher.MaxAttempts
	opts.BaseDelay = c.Fetcher.BaseDelay
	opts.BackoffJitter = c.Fetcher.BackoffJitter
	opts.JitterMin = c.Fetcher.JitterMin
	opts.JitterMax = c.Fetcher.JitterMax
	opts.ProxyURL = c.Fetcher.ProxyURL
	return opts
}

func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Fetcher.ProxyURL
	opts.MaxAttempts = c.Fetcher.MaxAttempts
	if len(c.Fetcher.UserAgents) > 0 {
		opts.UserAgent = c.Fetcher.UserAgents[0]
	}
	return opts
}

// PipelineOptions maps the pipeline section onto pipeline.Options.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Tolerance = c.Pipeline.Tolerance
	opts.MaxOffers = c.Pipeline.MaxOffers
	opts.TermConcurrency = c.Pipeline.TermConcurrency
	opts.ClassifierConcurrency = c.Pipeline.ClassifierConcurrency
	opts.MaxAlternatives = c.Pipeline.MaxAlternatives
	opts.MinMargin = c.Pipeline.MinMargin
	return opts
}

// StatsEngine builds the outlier engine from the stats section.
func (c *Config) StatsEngine(logger *slog.Logger) stats.Engine {
	return stats.NewEngine(c.Stats.IQRMultiplier, c.Stats.MinSample, logger)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
