package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ragstore/ragstore/internal/dimension"
)

var migrateBatchSize int

var migrateDimensionCmd = &cobra.Command{
	Use:   "migrate-dimension <new-dimension>",
	Short: "Change the stored embedding width",
	Long: `Switches the corpus to a new embedding dimension after the upstream
model changed. Embeddings of a different width are invalidated (nulled),
never resized; text and metadata are preserved. The run is idempotent
and safe to repeat after an interruption. Re-embed the invalidated
chunks afterwards with "ragstore backfill".`,
	Args: cobra.ExactArgs(1),
	RunE: runMigrateDimension,
}

func init() {
	migrateDimensionCmd.Flags().IntVar(&migrateBatchSize, "batch-size", 0, "rows invalidated per batch (0 = default)")
	rootCmd.AddCommand(migrateDimensionCmd)
}

func runMigrateDimension(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	newDim, err := strconv.Atoi(args[0])
	if err != nil || newDim <= 0 {
		return fmt.Errorf("new dimension must be a positive integer, got %q", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	migrator := dimension.NewMigrator(a.pool, a.registry, a.logger.With("component", "migrator"), migrateBatchSize)

	result, err := migrator.Migrate(ctx, newDim)
	if err != nil {
		return err
	}

	fmt.Printf("Dimension migrated to %d: %d embeddings invalidated, %d chunks awaiting re-embedding\n",
		newDim, result.Invalidated, result.Backlog)
	if result.Backlog > 0 {
		fmt.Println("Run \"ragstore backfill\" to re-embed them.")
	}

	return nil
}
