package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragstore/ragstore/internal/search"
)

var (
	searchTopK          int32
	searchMinSimilarity float32
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank stored chunks by cosine similarity against a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().Int32Var(&searchTopK, "top-k", search.DefaultTopK, "maximum number of results")
	searchCmd.Flags().Float32Var(&searchMinSimilarity, "min-similarity", 0, "minimum similarity in [0, 1], exclusive")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	engine := search.NewEngine(a.store, client, a.logger.With("component", "search"))

	results, err := engine.Search(ctx, args[0],
		search.WithTopK(searchTopK),
		search.WithMinSimilarity(searchMinSimilarity))
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.4f] %s#%d\n", i+1, r.Similarity, r.Chunk.DocumentID, r.Chunk.Index)
		fmt.Printf("   %s\n", snippet(r.Chunk.Content, 160))
	}

	return nil
}

func snippet(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
