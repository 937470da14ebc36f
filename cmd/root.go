// Package cmd defines and implements the CLI commands for the discourse-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/app"
	"github.com/JakeFAU/discourse-crawler/internal/config"
	"github.com/JakeFAU/discourse-crawler/internal/ledger"
	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStorage() storage.Provider
	GetLoose() storage.Provider
	GetArchive() storage.Provider
	GetLedger() *ledger.Ledger
}

// newApp is the application factory. It's a variable so we can
// replace it in our tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

// flagKeys binds persistent flags to configuration keys.
var flagKeys = map[string]string{
	"store":       "store.dir",
	"backend":     "store.backend",
	"sites":       "crawler.sites_file",
	"concurrency": "crawler.concurrency",
	"port":        "server.port",
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "discourse-crawler",
		Short: "Incrementally crawls Discourse forums through their JSON API.",
		Long: `discourse-crawler fetches category, topic and site index pages from a list
of Discourse forums and stores the raw JSON responses in a resumable on-disk store,
either as loose files or as one tar archive per forum. Failed URLs are recorded in
failures.json and per-site statistics are aggregated into crawlsummary.json.`,
		SilenceUsage: true,

		// Build the application from the merged configuration and inject it into the
		// context for the subcommand. The subcommand closes it, on failure too.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.String("store", "store", "store directory")
	flags.String("backend", storage.BackendLoose, "artifact backend: loose, tarball or memory")
	flags.String("sites", "", "site list JSON file (default {store}/index.json)")
	flags.Int("concurrency", 1000, "global limit on in-flight requests")
	flags.Int("port", 0, "status server port; 0 disables it")
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSummaryCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context so a
// crawl stops between requests and leaves the store resumable.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
