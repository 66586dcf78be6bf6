// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// JobsConfig bounds capture-level concurrency and queue depth.
type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueDepth    int `mapstructure:"queue_depth"`
}

// CrawlerConfig holds BFS traversal settings. Parallelism is loaded and
// validated, but the crawler does not read it: capture-mode traversal uses
// the fixed captureWorkers width in internal/crawl.
type CrawlerConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// DownloadsConfig governs per-page resource fetching.
type DownloadsConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
}

// StorageConfig sets capture and temp directories.
type StorageConfig struct {
	CapturesDir string `mapstructure:"captures_dir"`
	TempDir     string `mapstructure:"temp_dir"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	MaxPages          int           `mapstructure:"max_pages"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// RetentionConfig sets cleanup ages for finished artifacts.
type RetentionConfig struct {
	Jobs       time.Duration `mapstructure:"jobs"`
	Batches    time.Duration `mapstructure:"batches"`
	TestCrawls time.Duration `mapstructure:"test_crawls"`
	TempFiles  time.Duration `mapstructure:"temp_files"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from the global Viper state.
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Crawler.Parallelism <= 0 {
		return fmt.Errorf("crawler.parallelism must be > 0")
	}
	if c.Downloads.Concurrency <= 0 {
		return fmt.Errorf("downloads.concurrency must be > 0")
	}
	if c.Downloads.MinDelay <= 0 {
		return fmt.Errorf("downloads.min_delay must be > 0")
	}
	if c.Storage.CapturesDir == "" {
		return fmt.Errorf("storage.captures_dir must be set")
	}
	if c.Storage.TempDir == "" {
		return fmt.Errorf("storage.temp_dir must be set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jobs.max_concurrent", 3)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("crawler.parallelism", 3)
	v.SetDefault("downloads.concurrency", 5)
	v.SetDefault("downloads.min_delay", "1s")
	v.SetDefault("storage.captures_dir", "captures")
	v.SetDefault("storage.temp_dir", "tmp/downloads")
	v.SetDefault("browser.max_pages", 6)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("retention.jobs", "168h")
	v.SetDefault("retention.batches", "168h")
	v.SetDefault("retention.test_crawls", "48h")
	v.SetDefault("retention.temp_files", "24h")
	v.SetDefault("logging.development", false)
}
