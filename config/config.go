// Package config loads the ingestion settings and initialises logging.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// ScrapeConfig configures fetching from the source site.
type ScrapeConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	BrochureAPIURL    string        `yaml:"brochure_api_url" mapstructure:"brochure_api_url"`
	Parallelism       int           `yaml:"parallelism" mapstructure:"parallelism"`
	DomainParallelism int           `yaml:"domain_parallelism" mapstructure:"domain_parallelism"`
	Delay             time.Duration `yaml:"delay" mapstructure:"delay"`
	RandomDelay       time.Duration `yaml:"random_delay" mapstructure:"random_delay"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max" mapstructure:"retry_backoff_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxPages          int           `yaml:"max_pages" mapstructure:"max_pages"`
	FetchFlyerPages   bool          `yaml:"fetch_flyer_pages" mapstructure:"fetch_flyer_pages"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	RespectRobotsTxt  bool          `yaml:"respect_robots_txt" mapstructure:"respect_robots_txt"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// PipelineConfig configures record processing.
type PipelineConfig struct {
	BufferSize      int    `yaml:"buffer_size" mapstructure:"buffer_size"`
	CheckpointEvery int    `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	Preload         bool   `yaml:"preload" mapstructure:"preload"`
	CacheSize       int    `yaml:"cache_size" mapstructure:"cache_size"`
	DefaultCategory string `yaml:"default_category" mapstructure:"default_category"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			BaseURL:           "https://www.kaufda.de",
			BrochureAPIURL:    "https://content-viewer-be.kaufda.de/api/v1",
			Parallelism:       16,
			DomainParallelism: 8,
			Delay:             time.Second,
			RandomDelay:       500 * time.Millisecond,
			Timeout:           60 * time.Second,
			MaxRetries:        2,
			RetryBackoff:      500 * time.Millisecond,
			RetryBackoffMax:   10 * time.Second,
			RequestsPerSecond: 4,
			MaxPages:          200,
			FetchFlyerPages:   true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RespectRobotsTxt:  false,
		},
		Store: StoreConfig{
			Driver:      "postgres",
			DatabaseURL: "postgres://localhost:5432/offboard?sslmode=disable",
			MaxConns:    10,
		},
		Pipeline: PipelineConfig{
			BufferSize:      512,
			CheckpointEvery: 10,
			Preload:         true,
			CacheSize:       4096,
			DefaultCategory: "General",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Load reads config.yaml from the working directory when present, then
// applies OFFBOARD_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OFFBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("scrape.base_url", d.Scrape.BaseURL)
	v.SetDefault("scrape.brochure_api_url", d.Scrape.BrochureAPIURL)
	v.SetDefault("scrape.parallelism", d.Scrape.Parallelism)
	v.SetDefault("scrape.domain_parallelism", d.Scrape.DomainParallelism)
	v.SetDefault("scrape.delay", d.Scrape.Delay)
	v.SetDefault("scrape.random_delay", d.Scrape.RandomDelay)
	v.SetDefault("scrape.timeout", d.Scrape.Timeout)
	v.SetDefault("scrape.max_retries", d.Scrape.MaxRetries)
	v.SetDefault("scrape.retry_backoff", d.Scrape.RetryBackoff)
	v.SetDefault("scrape.retry_backoff_max", d.Scrape.RetryBackoffMax)
	v.SetDefault("scrape.requests_per_second", d.Scrape.RequestsPerSecond)
	v.SetDefault("scrape.max_pages", d.Scrape.MaxPages)
	v.SetDefault("scrape.fetch_flyer_pages", d.Scrape.FetchFlyerPages)
	v.SetDefault("scrape.user_agent", d.Scrape.UserAgent)
	v.SetDefault("scrape.respect_robots_txt", d.Scrape.RespectRobotsTxt)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.database_url", d.Store.DatabaseURL)
	v.SetDefault("store.max_conns", d.Store.MaxConns)
	v.SetDefault("pipeline.buffer_size", d.Pipeline.BufferSize)
	v.SetDefault("pipeline.checkpoint_every", d.Pipeline.CheckpointEvery)
	v.SetDefault("pipeline.preload", d.Pipeline.Preload)
	v.SetDefault("pipeline.cache_size", d.Pipeline.CacheSize)
	v.SetDefault("pipeline.default_category", d.Pipeline.DefaultCategory)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	s := c.Scrape
	if err := validateURL("base URL", s.BaseURL); err != nil {
		return err
	}
	if err := validateURL("brochure API URL", s.BrochureAPIURL); err != nil {
		return err
	}
	switch {
	case s.Parallelism <= 0:
		return eris.New("config: parallelism must be positive")
	case s.DomainParallelism <= 0:
		return eris.New("config: domain parallelism must be positive")
	case s.Delay < 0 || s.RandomDelay < 0:
		return eris.New("config: delay cannot be negative")
	case s.Timeout <= 0:
		return eris.New("config: timeout must be positive")
	case s.MaxRetries < 0:
		return eris.New("config: max retries cannot be negative")
	case s.RetryBackoff < 0 || s.RetryBackoffMax < 0:
		return eris.New("config: retry backoff cannot be negative")
	case s.RetryBackoffMax > 0 && s.RetryBackoff > s.RetryBackoffMax:
		return eris.Errorf("config: retry backoff (%s) cannot exceed retry backoff max (%s)", s.RetryBackoff, s.RetryBackoffMax)
	case s.RequestsPerSecond < 0:
		return eris.New("config: requests per second cannot be negative")
	case s.MaxPages <= 0:
		return eris.New("config: max pages must be positive")
	case s.UserAgent == "":
		return eris.New("config: user agent cannot be empty")
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: database URL cannot be empty")
	}

	p := c.Pipeline
	switch {
	case p.CheckpointEvery < 5 || p.CheckpointEvery > 20:
		return eris.Errorf("config: checkpoint interval must be between 5 and 20, got %d", p.CheckpointEvery)
	case p.BufferSize <= 0:
		return eris.New("config: buffer size must be positive")
	case p.CacheSize <= 0:
		return eris.New("config: cache size must be positive")
	case strings.TrimSpace(p.DefaultCategory) == "":
		return eris.New("config: default category cannot be empty")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return eris.Errorf("config: %s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return eris.Wrapf(err, "config: invalid %s", name)
	}
	if parsed.Host == "" {
		return eris.Errorf("config: %s must include a host", name)
	}
	return nil
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
