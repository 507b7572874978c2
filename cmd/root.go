// Package cmd implements the ragstore CLI: chunk ingestion, similarity
// search, embedding backfill, and dimension migration over a PostgreSQL
// + pgvector chunk store.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ragstore",
	Short: "Document chunk embedding store and similarity search",
	Long: `ragstore manages the RAG chunk subsystem of a document backend:
it splits documents into chunks, embeds them through an external model,
stores them in PostgreSQL with pgvector, and answers cosine similarity
queries. It also migrates the stored vector width when the embedding
model changes.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}
