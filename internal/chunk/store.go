package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DimensionRegistry is the dimension surface the store needs. Defined
// here, on the consumer side, so tests can substitute a fixed width;
// dimension.Registry satisfies it.
type DimensionRegistry interface {
	// Current returns the active embedding dimension.
	Current() int

	// Validate rejects vectors whose width differs from Current.
	Validate(vec []float32) error
}

// Store persists document chunks with their embeddings in PostgreSQL and
// answers cosine similarity queries via pgvector.
//
// All mutations are transactional: replacing a document's chunks is atomic,
// so a concurrent search sees either the fully-old or fully-new set, never
// an interleaving. Store is safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	registry DimensionRegistry
	logger   *slog.Logger
}

// NewStore creates a Store. The pool is owned by the caller (opened at
// process start, closed at shutdown); Store never manages its lifecycle.
func NewStore(pool *pgxpool.Pool, registry DimensionRegistry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, registry: registry, logger: logger}
}

// Replace atomically swaps all chunks of documentID for the given ordered
// set. Existing rows are deleted and the new ones inserted with sequential
// indexes starting at 0, all in one transaction. Inline embeddings are
// validated against the active dimension before anything is written.
//
// Passing an empty slice removes the document's chunks entirely.
func (s *Store) Replace(ctx context.Context, documentID string, chunks []New) error {
	if documentID == "" {
		return ErrEmptyDocumentID
	}
	for i, c := range chunks {
		if c.Content == "" {
			return fmt.Errorf("chunk %d: %w", i, ErrEmptyContent)
		}
		if c.Embedding != nil {
			if err := s.registry.Validate(c.Embedding); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("replace transaction rollback failed", "document_id", documentID, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete prior chunks for %q: %w", documentID, err)
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %d: %w", i, err)
		}

		var embedding *pgvector.Vector
		if c.Embedding != nil {
			v := pgvector.NewVector(c.Embedding)
			embedding = &v
		}

		batch.Queue(
			`INSERT INTO chunks (document_id, chunk_index, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)`,
			documentID, int32(i), c.Content, embedding, metadataJSON,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks for %q: %w", documentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk replacement for %q: %w", documentID, err)
	}

	s.logger.Debug("replaced document chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

// SetEmbedding persists a vector for an existing chunk. Fails with a
// dimension.MismatchError when the vector's width disagrees with the
// active dimension. Idempotent: re-writing the same vector is a no-op
// update.
func (s *Store) SetEmbedding(ctx context.Context, chunkID int64, vec []float32) error {
	if err := s.registry.Validate(vec); err != nil {
		return err
	}

	v := pgvector.NewVector(vec)
	tag, err := s.pool.Exec(ctx, `UPDATE chunks SET embedding = $2 WHERE id = $1`, chunkID, &v)
	if err != nil {
		return fmt.Errorf("failed to set embedding for chunk %d: %w", chunkID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %d: %w", chunkID, ErrNotFound)
	}
	return nil
}

// Unembedded returns up to limit chunks with id greater than afterID that
// still need an embedding, ordered by id. Passing afterID 0 starts at the
// beginning; passing the last id of the previous page resumes a backfill
// without revisiting chunks whose embedding call failed.
func (s *Store) Unembedded(ctx context.Context, afterID int64, limit int32) ([]Chunk, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata, created_at
		FROM chunks
		WHERE embedding IS NULL AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded chunks: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// DeleteDocument removes all chunks of documentID. Deleting a document
// with no chunks is not an error.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return ErrEmptyDocumentID
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document %q: %w", documentID, err)
	}

	s.logger.Debug("deleted document", "document_id", documentID, "chunks", tag.RowsAffected())
	return nil
}

// Search ranks stored chunks by cosine similarity against queryVec and
// returns at most topK results with similarity strictly above
// minSimilarity, ordered by descending similarity with ties broken by
// ascending chunk_index then id.
//
// Only chunks carrying a vector of the active dimension participate; rows
// with a null or stale-width embedding are skipped silently.
func (s *Store) Search(ctx context.Context, queryVec []float32, topK int32, minSimilarity float32) ([]Result, error) {
	if err := s.registry.Validate(queryVec); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be at least 1, got %d", topK)
	}

	v := pgvector.NewVector(queryVec)
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		WHERE embedding IS NOT NULL
		  AND vector_dims(embedding) = $2
		  AND 1 - (embedding <=> $1) > $3
		ORDER BY similarity DESC, chunk_index ASC, id ASC
		LIMIT $4`,
		&v, s.registry.Current(), minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, topK)
	for rows.Next() {
		var (
			c            Chunk
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &metadataJSON, &c.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		c.Metadata = s.parseMetadata(c.ID, metadataJSON)
		results = append(results, Result{Chunk: c, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return results, nil
}

// CountByDocument returns the number of chunks stored for documentID.
func (s *Store) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	if documentID == "" {
		return 0, ErrEmptyDocumentID
	}

	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE document_id = $1`, documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for %q: %w", documentID, err)
	}
	return count, nil
}

// CountMissing returns the total number of chunks without an embedding.
func (s *Store) CountMissing(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE embedding IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unembedded chunks: %w", err)
	}
	return count, nil
}

// ListByDocument returns all chunks of documentID in index order, without
// embeddings. Useful for admin tooling and tests.
func (s *Store) ListByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	if documentID == "" {
		return nil, ErrEmptyDocumentID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata, created_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for %q: %w", documentID, err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

func (s *Store) scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var (
			c            Chunk
			metadataJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &metadataJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		c.Metadata = s.parseMetadata(c.ID, metadataJSON)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk rows: %w", err)
	}
	return chunks, nil
}

// parseMetadata decodes the JSONB metadata column. A malformed value is
// logged and replaced with an empty map rather than failing the read.
func (s *Store) parseMetadata(chunkID int64, raw []byte) map[string]string {
	metadata := make(map[string]string)
	if len(raw) == 0 {
		return metadata
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		s.logger.Warn("failed to parse chunk metadata", "chunk_id", chunkID, "error", err)
		return make(map[string]string)
	}
	return metadata
}
