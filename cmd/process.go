package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

var (
	processDate    string
	processEntryID string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract price records from pending downloaded files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		orch := env.orchestrator()

		var sum model.Summary
		switch {
		case processEntryID != "":
			sum, err = orch.ProcessEntry(ctx, processEntryID)
		case processDate != "":
			var day time.Time
			day, err = time.Parse("2006-01-02", processDate)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", processDate)
			}
			sum, err = orch.ProcessByDate(ctx, day, cfg.Process.Concurrency)
		default:
			sum, err = orch.ProcessAllPending(ctx, cfg.Process.Concurrency)
		}
		if err != nil {
			return err
		}

		zap.L().Info("processing complete",
			zap.Int("total", sum.Total),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
			zap.Int("skipped", sum.Skipped),
			zap.Int("prices_extracted", sum.PricesExtracted),
			zap.Int("errors_logged", sum.ErrorsLogged),
		)
		return reportSummary(sum)
	},
}

func init() {
	processCmd.Flags().StringVar(&processDate, "date", "", "only process entries for this bulletin date, YYYY-MM-DD")
	processCmd.Flags().StringVar(&processEntryID, "entry", "", "process a single entry by id")
	rootCmd.AddCommand(processCmd)
}
