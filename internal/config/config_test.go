package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
store:
  dir: /var/lib/forums
  backend: tarball
crawler:
  sites_file: /etc/forums.json
  mode: index
  concurrency: 64
  per_host_max: 2
  per_host_rps: 1.5
  per_host_burst: 3
  user_agent: forum-archiver
  request_timeout: 45s
  respect_robots: true
  max_pagination_depth: 20
  shuffle_seed: 42
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Store.Dir != "/var/lib/forums" || cfg.Store.Backend != "tarball" {
		t.Fatalf("expected store overrides to apply: %+v", cfg.Store)
	}
	if cfg.Crawler.Concurrency != 64 || cfg.Crawler.PerHostMax != 2 || !cfg.Crawler.RespectRobots {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.SitesFile != "/etc/forums.json" {
		t.Fatalf("expected explicit sites file, got %q", cfg.Crawler.SitesFile)
	}
	if cfg.Crawler.RequestTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", cfg.Crawler.RequestTimeout)
	}
	if cfg.Crawler.PerHostRPS != 1.5 || cfg.Crawler.PerHostBurst != 3 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.Crawler)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}

	orch, err := cfg.Orchestrator("")
	if err != nil {
		t.Fatalf("Orchestrator() error = %v", err)
	}
	if orch.Options != (crawler.Options{ScrapeIndex: true}) {
		t.Fatalf("expected index options, got %+v", orch.Options)
	}
	if orch.MaxPaginationDepth != 20 || orch.ShuffleSeed != 42 {
		t.Fatalf("expected orchestrator settings to carry over: %+v", orch)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Dir != "store" || cfg.Store.Backend != "loose" {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Crawler.SitesFile != filepath.Join("store", "index.json") {
		t.Fatalf("expected sites file under the store, got %q", cfg.Crawler.SitesFile)
	}
	if cfg.Crawler.Concurrency != 1000 || cfg.Crawler.MaxPaginationDepth != 1000 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s default timeout, got %v", cfg.Crawler.RequestTimeout)
	}
	if cfg.Server.Port != 0 {
		t.Fatalf("expected status server disabled by default, got port %d", cfg.Server.Port)
	}
}

func TestLoadWithPrefersBoundValues(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("store.dir", "elsewhere")
	v.Set("crawler.concurrency", 7)

	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Store.Dir != "elsewhere" || cfg.Crawler.Concurrency != 7 {
		t.Fatalf("expected explicit values to win: %+v", cfg)
	}
	if cfg.Crawler.SitesFile != filepath.Join("elsewhere", "index.json") {
		t.Fatalf("expected sites file to follow the store dir, got %q", cfg.Crawler.SitesFile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Store: StoreConfig{Dir: "store", Backend: "loose"},
		Crawler: CrawlerConfig{
			Mode:           "topics",
			Concurrency:    1,
			RequestTimeout: time.Second,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = -1
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing store dir",
			cfg: func() Config {
				c := base
				c.Store.Dir = " "
				return c
			}(),
			want: "store.dir",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Store.Backend = "gcs"
				return c
			}(),
			want: "store.backend",
		},
		{
			name: "unknown mode",
			cfg: func() Config {
				c := base
				c.Crawler.Mode = "everything"
				return c
			}(),
			want: "crawler.mode",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawler.Concurrency = 0
				return c
			}(),
			want: "crawler.concurrency",
		},
		{
			name: "rate without burst",
			cfg: func() Config {
				c := base
				c.Crawler.PerHostRPS = 2
				return c
			}(),
			want: "crawler.per_host_burst",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Crawler.RequestTimeout = 0
				return c
			}(),
			want: "crawler.request_timeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}
}
