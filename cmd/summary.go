package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/discourse-crawler/internal/summary"
)

// newSummaryCmd creates the 'summary' subcommand.
func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Aggregates stored site indexes into crawlsummary.json",
		Long: `Reads failures.json, the site list and every stored /site index, writes
crawlsummary.json to the store and prints a per-forum table. Requires a prior
"crawl index" run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.Close()
			return writeSummary(cmd, appInstance)
		},
	}
}

func writeSummary(cmd *cobra.Command, appInstance App) error {
	cfg := appInstance.GetConfig()
	aggregator := summary.New(
		summary.Config{SitesFile: cfg.Crawler.SitesFile},
		appInstance.GetLoose(),
		appInstance.GetArchive(),
		appInstance.GetLogger().Named("summary"),
	)
	report, err := aggregator.Write(cmd.Context())
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	summary.Render(cmd.OutOrStdout(), report)
	return nil
}
