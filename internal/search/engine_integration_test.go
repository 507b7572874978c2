package search_test

import (
	"context"
	"testing"

	"github.com/ragstore/ragstore/internal/chunk"
	"github.com/ragstore/ragstore/internal/dimension"
	"github.com/ragstore/ragstore/internal/embed"
	"github.com/ragstore/ragstore/internal/ingest"
	"github.com/ragstore/ragstore/internal/search"
	"github.com/ragstore/ragstore/internal/testutil"
)

// Exercises the full path a real deployment takes: ingest splits and
// embeds a document into PostgreSQL, search embeds the query and ranks
// via pgvector. The hash embedder stands in for the remote model, so an
// exact text match has cosine similarity 1.
func TestIngestThenSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := testutil.SetupTestDB(t)

	registry, err := dimension.NewRegistry(ctx, testDB.Pool, testutil.Logger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	store := chunk.NewStore(testDB.Pool, registry, testutil.Logger())

	client := embed.NewClient(&testutil.HashEmbedder{Dim: registry.Current()}, registry, nil, 1, testutil.Logger())
	pipeline := ingest.NewPipeline(store, client, testutil.Logger(), 2)
	engine := search.NewEngine(store, client, testutil.Logger())

	text := "The quick brown fox jumps over the lazy dog. " +
		"PostgreSQL stores the chunk embeddings. " +
		"Cosine similarity ranks the results."
	policy := ingest.Policy{MaxChunkLen: 60}

	result, err := pipeline.Ingest(ctx, "doc-1", text, policy)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.MissingEmbedding != 0 {
		t.Fatalf("MissingEmbedding = %d, want 0", result.MissingEmbedding)
	}
	if result.ChunksWritten == 0 {
		t.Fatal("no chunks written")
	}

	// Querying with the exact text of a stored chunk must put that chunk
	// first with similarity ~1.
	stored, err := store.ListByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	target := stored[len(stored)-1]

	results, err := engine.Search(ctx, target.Content, search.WithTopK(3), search.WithMinSimilarity(0.99))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results above 0.99, want exactly the matching chunk: %+v", len(results), results)
	}
	if results[0].Content != target.Content {
		t.Errorf("top result = %q, want %q", results[0].Content, target.Content)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("similarity = %g, want ~1 for an identical text", results[0].Similarity)
	}

	// Re-ingesting the same document must not duplicate chunks or change
	// the search outcome.
	if _, err := pipeline.Ingest(ctx, "doc-1", text, policy); err != nil {
		t.Fatalf("re-Ingest() error = %v", err)
	}
	again, err := engine.Search(ctx, target.Content, search.WithTopK(3), search.WithMinSimilarity(0.99))
	if err != nil {
		t.Fatalf("Search() after re-ingest error = %v", err)
	}
	if len(again) != 1 || again[0].Content != target.Content {
		t.Errorf("results changed after re-ingest: %+v", again)
	}
}

// A dimension migration invalidates the corpus; backfill with the new
// model restores searchability at the new width.
func TestMigrationThenBackfill(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := testutil.SetupTestDB(t)

	registry, err := dimension.NewRegistry(ctx, testDB.Pool, testutil.Logger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	store := chunk.NewStore(testDB.Pool, registry, testutil.Logger())

	oldClient := embed.NewClient(&testutil.HashEmbedder{Dim: 768}, registry, nil, 1, testutil.Logger())
	pipeline := ingest.NewPipeline(store, oldClient, testutil.Logger(), 2)

	if _, err := pipeline.Ingest(ctx, "doc-1", "Alpha. Beta. Gamma.", ingest.Policy{MaxChunkLen: 10}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	migrator := dimension.NewMigrator(testDB.Pool, registry, testutil.Logger(), 0)
	migResult, err := migrator.Migrate(ctx, 512)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if migResult.Backlog == 0 {
		t.Fatal("migration left no backlog, expected invalidated chunks")
	}

	// The old-width embedder is now rejected outright.
	if _, err := oldClient.Embed(ctx, "query"); !dimension.IsMismatch(err) {
		t.Fatalf("old-width Embed() error = %v, want dimension mismatch", err)
	}

	newClient := embed.NewClient(&testutil.HashEmbedder{Dim: 512}, registry, nil, 1, testutil.Logger())
	backfillPipeline := ingest.NewPipeline(store, newClient, testutil.Logger(), 2)

	bf, err := backfillPipeline.Backfill(ctx, 2)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if bf.Embedded != migResult.Backlog {
		t.Errorf("Embedded = %d, want the whole backlog of %d", bf.Embedded, migResult.Backlog)
	}
	if bf.Failed != 0 {
		t.Errorf("Failed = %d, want 0", bf.Failed)
	}

	missing, err := store.CountMissing(ctx)
	if err != nil {
		t.Fatalf("CountMissing() error = %v", err)
	}
	if missing != 0 {
		t.Errorf("CountMissing() = %d after backfill, want 0", missing)
	}

	// Search works again at the new width.
	engine := search.NewEngine(store, newClient, testutil.Logger())
	results, err := engine.Search(ctx, "Alpha.", search.WithTopK(1), search.WithMinSimilarity(0.99))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Content != "Alpha." {
		t.Errorf("results = %+v, want the re-embedded Alpha chunk", results)
	}
}
