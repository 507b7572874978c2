package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ragstore/ragstore/internal/chunk"
	"github.com/ragstore/ragstore/internal/dimension"
)

// DefaultParallelism bounds concurrent embedding requests per ingestion.
const DefaultParallelism = 4

// Store is the chunk persistence surface the pipeline needs. chunk.Store
// satisfies it; tests substitute a mock.
type Store interface {
	Replace(ctx context.Context, documentID string, chunks []chunk.New) error
	Unembedded(ctx context.Context, afterID int64, limit int32) ([]chunk.Chunk, error)
	SetEmbedding(ctx context.Context, chunkID int64, vec []float32) error
}

// Embedder produces a validated vector for a chunk's text. embed.Client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result reports the outcome of one document ingestion.
type Result struct {
	// RunID identifies this ingestion run in logs.
	RunID string

	// ChunksWritten is the total number of chunks stored for the document.
	ChunksWritten int

	// MissingEmbedding counts chunks stored without a vector because their
	// embedding call failed after retries.
	MissingEmbedding int

	// MissingIndexes lists the chunk indexes stored without a vector, in
	// ascending order.
	MissingIndexes []int32
}

// BackfillResult reports the outcome of a backfill pass over chunks
// missing an embedding.
type BackfillResult struct {
	Embedded int64
	Failed   int64
}

// Pipeline ingests documents: split, embed, atomically replace. It is
// stateless per call and safe for concurrent use across documents;
// per-document atomicity is delegated to the store.
type Pipeline struct {
	store       Store
	embedder    Embedder
	logger      *slog.Logger
	parallelism int
}

// NewPipeline creates a Pipeline. parallelism <= 0 selects
// DefaultParallelism.
func NewPipeline(store Store, embedder Embedder, logger *slog.Logger, parallelism int) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Pipeline{
		store:       store,
		embedder:    embedder,
		logger:      logger,
		parallelism: parallelism,
	}
}

// Ingest replaces documentID's chunks with the split of text under
// policy. Each chunk is embedded with bounded retries; a chunk whose
// embedding call ultimately fails is stored without a vector and reported
// in the result rather than failing the document. A dimension mismatch is
// fatal: it means the embedding model changed width and nothing useful can
// be written until a dimension migration runs.
//
// Re-running Ingest with identical text and policy yields a
// content-identical chunk set (row ids may differ).
func (p *Pipeline) Ingest(ctx context.Context, documentID, text string, policy Policy) (Result, error) {
	result := Result{RunID: uuid.NewString()}

	if documentID == "" {
		return result, chunk.ErrEmptyDocumentID
	}
	if err := policy.Validate(); err != nil {
		return result, fmt.Errorf("invalid chunk policy: %w", err)
	}

	logger := p.logger.With("document_id", documentID, "run_id", result.RunID)

	pieces := Split(text, policy)
	if len(pieces) == 0 {
		// Empty text clears the document's chunks.
		if err := p.store.Replace(ctx, documentID, nil); err != nil {
			return result, err
		}
		logger.Info("ingested empty document, chunks cleared")
		return result, nil
	}

	newChunks := make([]chunk.New, len(pieces))
	now := time.Now().UTC().Format(time.RFC3339)
	for i, piece := range pieces {
		newChunks[i] = chunk.New{
			Content: piece,
			Metadata: map[string]string{
				"run_id":      result.RunID,
				"ingested_at": now,
				"char_count":  strconv.Itoa(len([]rune(piece))),
			},
		}
	}

	var (
		mu      sync.Mutex
		missing []int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i := range newChunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, newChunks[i].Content)
			if err != nil {
				if dimension.IsMismatch(err) || gctx.Err() != nil {
					return err
				}
				logger.Warn("chunk embedding failed, storing without vector",
					"chunk_index", i, "error", err)
				mu.Lock()
				missing = append(missing, int32(i))
				mu.Unlock()
				return nil
			}
			newChunks[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("ingestion of %q aborted: %w", documentID, err)
	}

	if err := p.store.Replace(ctx, documentID, newChunks); err != nil {
		return result, err
	}

	sort.Slice(missing, func(a, b int) bool { return missing[a] < missing[b] })
	result.ChunksWritten = len(newChunks)
	result.MissingEmbedding = len(missing)
	result.MissingIndexes = missing

	logger.Info("document ingested",
		"chunks", result.ChunksWritten,
		"missing_embedding", result.MissingEmbedding)

	return result, nil
}

// Backfill embeds chunks currently missing a vector, paging by id so an
// interrupted run resumes where it left off and chunks that keep failing
// are not retried within the same pass. Cancellation is honored between
// chunks; no chunk is left half-written.
func (p *Pipeline) Backfill(ctx context.Context, batchSize int32) (BackfillResult, error) {
	var result BackfillResult

	if batchSize <= 0 {
		return result, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	var afterID int64
	for {
		page, err := p.store.Unembedded(ctx, afterID, batchSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}

		for _, c := range page {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("backfill canceled: %w", ctx.Err())
			default:
			}

			vec, err := p.embedder.Embed(ctx, c.Content)
			if err != nil {
				if dimension.IsMismatch(err) {
					return result, fmt.Errorf("backfill aborted: %w", err)
				}
				p.logger.Warn("backfill embedding failed, skipping chunk",
					"chunk_id", c.ID, "error", err)
				result.Failed++
				continue
			}

			if err := p.store.SetEmbedding(ctx, c.ID, vec); err != nil {
				return result, fmt.Errorf("backfill failed to persist embedding for chunk %d: %w", c.ID, err)
			}
			result.Embedded++
		}

		afterID = page[len(page)-1].ID
	}

	p.logger.Info("backfill completed", "embedded", result.Embedded, "failed", result.Failed)
	return result, nil
}
