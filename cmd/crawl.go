package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/discourse-crawler/internal/api"
	"github.com/JakeFAU/discourse-crawler/internal/config"
	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/discourse-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/discourse-crawler/internal/id/uuid"
	"github.com/JakeFAU/discourse-crawler/internal/policy/ratelimit"
	memqueue "github.com/JakeFAU/discourse-crawler/internal/queue/memory"
	"github.com/JakeFAU/discourse-crawler/internal/worker"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [index|topics]",
		Short: "Crawls the configured forums",
		Long: `Seeds the frontier from the site list and fetches until it is exhausted.

  index   fetch each forum's /site page, then write crawlsummary.json
  topics  fetch latest, top and category listings and every topic not yet stored

Without an argument the mode comes from crawler.mode. Interrupting a crawl leaves
the store resumable; running the same command again skips stored topics.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{crawler.ModeIndex, crawler.ModeTopics},
		RunE:      runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	cfg := appInstance.GetConfig()

	mode := cfg.Crawler.Mode
	if len(args) == 1 {
		mode = args[0]
	}
	crawlCfg, err := cfg.Orchestrator(mode)
	if err != nil {
		return fmt.Errorf("resolve crawl mode: %w", err)
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return err //nolint:wrapcheck
	}
	logger := appInstance.GetLogger().With(zap.String("run_id", runID), zap.String("mode", mode))

	sites, err := crawler.LoadSites(cfg.Crawler.SitesFile, logger)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	failures := appInstance.GetLedger()
	if err := failures.Load(cmd.Context()); err != nil {
		return fmt.Errorf("load failure ledger: %w", err)
	}

	engine, fetcher := buildEngine(cfg, logger)
	orchestrator := crawler.NewOrchestrator(
		crawlCfg,
		appInstance.GetStorage(),
		failures,
		engine,
		logger.Named("orchestrator"),
	)

	logger.Info("Starting crawl",
		zap.Int("sites", len(sites)),
		zap.String("backend", cfg.Store.Backend),
		zap.Int("known_failures", failures.Len()),
	)
	err = runWithStatusServer(cmd.Context(), cfg.Server.Port, func(ctx context.Context) error {
		return orchestrator.Run(ctx, sites)
	}, api.NewServer(runID, failures, engine, logger.Named("api"), api.WithRobots(fetcher)))
	if ferr := failures.Flush(context.WithoutCancel(cmd.Context())); ferr != nil {
		logger.Error("Failed to persist failure ledger", zap.Error(ferr))
	}
	switch {
	case err != nil && errors.Is(err, context.Canceled) && cmd.Context().Err() != nil:
		logger.Warn("Crawl interrupted; the store can be resumed", zap.Int("failures", failures.Len()))
		return nil
	case err != nil:
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("Crawl finished", zap.Int("failures", failures.Len()))

	if crawlCfg.Options.ScrapeIndex {
		return writeSummary(cmd, appInstance)
	}
	return nil
}

// runWithStatusServer runs crawl and, when port > 0, the status server next to it. The
// server stops once the crawl returns.
func runWithStatusServer(ctx context.Context, port int, crawl func(context.Context) error, srv *api.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	crawlCtx, stop := context.WithCancel(gctx)
	defer stop()

	if port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", port, err)
		}
		g.Go(func() error {
			return srv.Serve(crawlCtx, ln)
		})
	}
	g.Go(func() error {
		defer stop()
		return crawl(crawlCtx)
	})
	return g.Wait() //nolint:wrapcheck
}

func buildEngine(cfg config.Config, logger *zap.Logger) (*dispatcher.Dispatcher, *collyfetcher.Fetcher) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	}, logger.Named("fetcher"))

	var limiter worker.Limiter
	if cfg.Crawler.PerHostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.PerHostRPS,
			DefaultBurst: cfg.Crawler.PerHostBurst,
		})
	}

	engine := dispatcher.New(
		memqueue.NewQueue(cfg.Crawler.PerHostMax),
		fetcher,
		limiter,
		dispatcher.Config{Workers: cfg.Crawler.Concurrency},
		logger.Named("dispatcher"),
	)
	return engine, fetcher
}
