package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryKind string

var retryErrorsCmd = &cobra.Command{
	Use:   "retry-errors",
	Short: "Re-run extraction for entries with unresolved processing errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.orchestrator().RetryUnresolvedErrors(ctx, retryKind)
		if err != nil {
			return err
		}

		zap.L().Info("retry complete",
			zap.String("kind", retryKind),
			zap.Int("total", sum.Total),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
			zap.Int("prices_extracted", sum.PricesExtracted),
		)
		return reportSummary(sum)
	},
}

func init() {
	retryErrorsCmd.Flags().StringVar(&retryKind, "kind", "", "only retry errors of this kind (e.g. invalid_headers)")
	rootCmd.AddCommand(retryErrorsCmd)
}
