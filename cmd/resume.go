package cmd

import (
	"github.com/spf13/cobra"

	"github.com/prebidwatch/scout/internal/ledger"
	"github.com/prebidwatch/scout/internal/urlsource"
)

func newResumeCmd() *cobra.Command {
	var (
		source    string
		rangeSpec string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Shows where an interrupted crawl should continue",
		Long: `Reads the batch progress file for the given range and prints the exact
crawl command that continues the run: failed batches are retried first,
then the sweep picks up after the last completed batch. Already-completed
batches are never redone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResume(cmd, source, rangeSpec, batchSize)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "URL list the original crawl used (required)")
	cmd.Flags().StringVar(&rangeSpec, "range", "", "range of the original crawl <start>-<end> (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "batch size of the original crawl (overrides config)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("range")

	return cmd
}

func runResume(cmd *cobra.Command, source, rangeSpec string, batchSize int) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rng, err := urlsource.ParseRange(rangeSpec)
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		batchSize = cfg.Scanner.BatchSize
	}

	led := ledger.Open(cfg.Scanner.ProgressDir, rng, batchSize, nil, logger)
	completed, failed := led.Counts()
	cmd.Printf("Progress file: %s\n", led.Path())
	cmd.Printf("Batches: %d total, %d completed, %d failed\n", led.TotalBatches(), completed, failed)

	next, ok := led.NextBatch()
	if !ok {
		cmd.Println("All batches are complete; nothing to resume.")
		return nil
	}

	bounds := led.BatchBounds(next)
	resumeRange := urlsource.Range{Start: bounds.Start, End: rng.End}
	cmd.Printf("Next batch: %d (positions %s)\n", next, bounds.String())
	cmd.Printf("\nContinue with:\n\n  scout crawl --source %s --range %s --batch-size %d --skipProcessed\n",
		source, resumeRange.String(), batchSize)
	return nil
}
