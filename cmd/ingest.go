package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragstore/ragstore/internal/ingest"
)

var (
	ingestMaxChunkLen int
	ingestOverlap     int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <document-id> <file>",
	Short: "Split a document into chunks, embed them, and store them",
	Long: `Reads the document text from <file> ("-" for stdin), splits it under
the chunking policy, embeds each chunk, and atomically replaces any
previously stored chunks for <document-id>. Chunks whose embedding call
fails after retries are stored without a vector and reported for
backfill.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestMaxChunkLen, "max-chunk-len", 0, "maximum chunk length in runes (default from config)")
	ingestCmd.Flags().IntVar(&ingestOverlap, "overlap", -1, "overlap between chunks in runes (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	documentID := args[0]
	text, err := readDocument(args[1])
	if err != nil {
		return err
	}

	policy := ingest.Policy{
		MaxChunkLen: a.cfg.ChunkMaxLen,
		Overlap:     a.cfg.ChunkOverlap,
	}
	if ingestMaxChunkLen > 0 {
		policy.MaxChunkLen = ingestMaxChunkLen
	}
	if ingestOverlap >= 0 {
		policy.Overlap = ingestOverlap
	}

	client, err := a.embedClient(ctx)
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(a.store, client, a.logger.With("component", "ingest"), a.cfg.IngestParallelism)

	result, err := pipeline.Ingest(ctx, documentID, text, policy)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %q: %d chunks written", documentID, result.ChunksWritten)
	if result.MissingEmbedding > 0 {
		fmt.Printf(", %d missing embeddings (indexes %v) — run backfill", result.MissingEmbedding, result.MissingIndexes)
	}
	fmt.Println()

	return nil
}

func readDocument(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's command line
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}
