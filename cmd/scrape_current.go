package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scrapeCurrentCmd = &cobra.Command{
	Use:   "scrape-current",
	Short: "Download files linked from the current daily publication page",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.scraper().ScrapeCurrent(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("scrape complete",
			zap.Int("total", sum.Total),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("skipped", sum.Skipped),
			zap.Int("failed", sum.Failed),
		)
		return reportSummary(sum)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCurrentCmd)
}
