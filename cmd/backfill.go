package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragstore/ragstore/internal/ingest"
)

var backfillBatchSize int32

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed chunks that are missing a vector",
	Long: `Pages through chunks without an embedding (failed ingestion calls or
vectors invalidated by a dimension migration), embeds each one, and
persists the result. Safe to interrupt and re-run; progress is kept
per chunk.`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().Int32Var(&backfillBatchSize, "batch-size", 100, "chunks fetched per page")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.embedClient(ctx)
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(a.store, client, a.logger.With("component", "backfill"), a.cfg.IngestParallelism)

	result, err := pipeline.Backfill(ctx, backfillBatchSize)
	if err != nil {
		return err
	}

	fmt.Printf("Backfill complete: %d embedded, %d failed\n", result.Embedded, result.Failed)
	if result.Failed > 0 {
		fmt.Println("Failed chunks keep a null embedding; re-run backfill to retry.")
	}

	return nil
}
