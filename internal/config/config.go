// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig selects where and how artifacts are persisted.
type StoreConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"`
}

// CrawlerConfig governs the orchestrator and the fetch engine.
type CrawlerConfig struct {
	SitesFile          string        `mapstructure:"sites_file"`
	Mode               string        `mapstructure:"mode"`
	Concurrency        int           `mapstructure:"concurrency"`
	PerHostMax         int           `mapstructure:"per_host_max"`
	PerHostRPS         float64       `mapstructure:"per_host_rps"`
	PerHostBurst       int           `mapstructure:"per_host_burst"`
	UserAgent          string        `mapstructure:"user_agent"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes       int           `mapstructure:"max_body_bytes"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	MaxPaginationDepth int           `mapstructure:"max_pagination_depth"`
	ShuffleSeed        int64         `mapstructure:"shuffle_seed"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided Viper instance, so command-line flags bound to v
// take precedence over the file and the environment.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix("CRAWLER")
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
	if cfg.Crawler.SitesFile == "" {
		cfg.Crawler.SitesFile = filepath.Join(cfg.Store.Dir, "index.json")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv exports a .env file from the working directory when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)
	v.SetDefault("store.dir", "store")
	v.SetDefault("store.backend", storage.BackendLoose)
	v.SetDefault("crawler.sites_file", "")
	v.SetDefault("crawler.mode", crawler.ModeTopics)
	v.SetDefault("crawler.concurrency", 1000)
	v.SetDefault("crawler.per_host_max", 8)
	v.SetDefault("crawler.per_host_rps", 0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.user_agent", "discourse-crawler/1.0")
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_pagination_depth", 1000)
	v.SetDefault("crawler.shuffle_seed", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if strings.TrimSpace(c.Store.Dir) == "" {
		return fmt.Errorf("store.dir must be set")
	}
	switch c.Store.Backend {
	case storage.BackendLoose, storage.BackendTarball, storage.BackendMemory:
	default:
		return fmt.Errorf("store.backend must be one of %s, %s, %s; got %q",
			storage.BackendLoose, storage.BackendTarball, storage.BackendMemory, c.Store.Backend)
	}
	if _, err := crawler.ModeOptions(c.Crawler.Mode); err != nil {
		return fmt.Errorf("crawler.mode: %w", err)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerHostMax < 0 {
		return fmt.Errorf("crawler.per_host_max must be >= 0")
	}
	if c.Crawler.PerHostRPS < 0 {
		return fmt.Errorf("crawler.per_host_rps must be >= 0")
	}
	if c.Crawler.PerHostRPS > 0 && c.Crawler.PerHostBurst <= 0 {
		return fmt.Errorf("crawler.per_host_burst must be > 0 when per_host_rps is set")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0")
	}
	return nil
}

// Orchestrator returns the crawl settings for mode, falling back to crawler.mode.
func (c Config) Orchestrator(mode string) (crawler.Config, error) {
	if mode == "" {
		mode = c.Crawler.Mode
	}
	opts, err := crawler.ModeOptions(mode)
	if err != nil {
		return crawler.Config{}, err //nolint:wrapcheck
	}
	return crawler.Config{
		Options:            opts,
		MaxPaginationDepth: c.Crawler.MaxPaginationDepth,
		ShuffleSeed:        c.Crawler.ShuffleSeed,
	}, nil
}
