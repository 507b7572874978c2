package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/ragstore/ragstore/internal/chunk"
	"github.com/ragstore/ragstore/internal/dimension"
	"github.com/ragstore/ragstore/internal/embed"
	"github.com/ragstore/ragstore/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockStore implements Store for pipeline tests.
type mockStore struct {
	mu sync.Mutex

	replaceErr   error
	replaceCalls int
	lastDocID    string
	lastChunks   []chunk.New

	unembedded   []chunk.Chunk
	setErr       error
	setEmbedding map[int64][]float32
}

func (m *mockStore) Replace(_ context.Context, documentID string, chunks []chunk.New) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	m.lastDocID = documentID
	m.lastChunks = chunks
	return m.replaceErr
}

func (m *mockStore) Unembedded(_ context.Context, afterID int64, limit int32) ([]chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page []chunk.Chunk
	for _, c := range m.unembedded {
		if c.ID > afterID && len(page) < int(limit) {
			// Chunks embedded earlier in the pass are no longer pending.
			if _, done := m.setEmbedding[c.ID]; !done {
				page = append(page, c)
			}
		}
	}
	return page, nil
}

func (m *mockStore) SetEmbedding(_ context.Context, chunkID int64, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.setEmbedding == nil {
		m.setEmbedding = make(map[int64][]float32)
	}
	m.setEmbedding[chunkID] = vec
	return nil
}

// mockEmbedder implements Embedder with per-text failures.
type mockEmbedder struct {
	mu        sync.Mutex
	dim       int
	failTexts map[string]error
	calls     int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.failTexts[text]; ok {
		return nil, err
	}
	vec := make([]float32, m.dim)
	vec[0] = 1
	return vec, nil
}

func TestPipelineIngest(t *testing.T) {
	ctx := context.Background()
	policy := Policy{MaxChunkLen: 2}

	t.Run("success", func(t *testing.T) {
		store := &mockStore{}
		embedder := &mockEmbedder{dim: 3}
		p := NewPipeline(store, embedder, log.NewNop(), 2)

		result, err := p.Ingest(ctx, "doc-1", "A. B. C.", policy)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}

		if result.ChunksWritten != 3 {
			t.Errorf("ChunksWritten = %d, want 3", result.ChunksWritten)
		}
		if result.MissingEmbedding != 0 {
			t.Errorf("MissingEmbedding = %d, want 0", result.MissingEmbedding)
		}
		if result.RunID == "" {
			t.Error("RunID is empty")
		}
		if store.replaceCalls != 1 {
			t.Fatalf("Replace called %d times, want 1", store.replaceCalls)
		}
		if store.lastDocID != "doc-1" {
			t.Errorf("document id = %q, want doc-1", store.lastDocID)
		}

		wantContents := []string{"A.", "B.", "C."}
		for i, c := range store.lastChunks {
			if c.Content != wantContents[i] {
				t.Errorf("chunk %d content = %q, want %q", i, c.Content, wantContents[i])
			}
			if len(c.Embedding) != 3 {
				t.Errorf("chunk %d embedding length = %d, want 3", i, len(c.Embedding))
			}
			if c.Metadata["run_id"] != result.RunID {
				t.Errorf("chunk %d run_id = %q, want %q", i, c.Metadata["run_id"], result.RunID)
			}
		}
	})

	t.Run("single embedding failure does not abort the document", func(t *testing.T) {
		store := &mockStore{}
		embedder := &mockEmbedder{
			dim: 3,
			failTexts: map[string]error{
				"B.": &embed.ServiceError{Err: errors.New("upstream 503")},
			},
		}
		p := NewPipeline(store, embedder, log.NewNop(), 2)

		result, err := p.Ingest(ctx, "doc-1", "A. B. C.", policy)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}

		if result.ChunksWritten != 3 {
			t.Errorf("ChunksWritten = %d, want 3", result.ChunksWritten)
		}
		if result.MissingEmbedding != 1 {
			t.Errorf("MissingEmbedding = %d, want 1", result.MissingEmbedding)
		}
		if !reflect.DeepEqual(result.MissingIndexes, []int32{1}) {
			t.Errorf("MissingIndexes = %v, want [1]", result.MissingIndexes)
		}
		if store.lastChunks[1].Embedding != nil {
			t.Error("failed chunk should be stored without embedding")
		}
		if store.lastChunks[0].Embedding == nil || store.lastChunks[2].Embedding == nil {
			t.Error("healthy chunks should keep their embeddings")
		}
	})

	t.Run("dimension mismatch aborts", func(t *testing.T) {
		store := &mockStore{}
		embedder := &mockEmbedder{
			dim: 3,
			failTexts: map[string]error{
				"A.": &dimension.MismatchError{Want: 3, Got: 768},
			},
		}
		p := NewPipeline(store, embedder, log.NewNop(), 1)

		_, err := p.Ingest(ctx, "doc-1", "A. B. C.", policy)
		if !dimension.IsMismatch(err) {
			t.Fatalf("Ingest() error = %v, want dimension mismatch", err)
		}
		if store.replaceCalls != 0 {
			t.Error("Replace must not run after a dimension mismatch")
		}
	})

	t.Run("empty text clears the document", func(t *testing.T) {
		store := &mockStore{}
		p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 1)

		result, err := p.Ingest(ctx, "doc-1", "   ", policy)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if result.ChunksWritten != 0 {
			t.Errorf("ChunksWritten = %d, want 0", result.ChunksWritten)
		}
		if store.replaceCalls != 1 || store.lastChunks != nil {
			t.Error("expected Replace with an empty chunk set")
		}
	})

	t.Run("empty document id", func(t *testing.T) {
		p := NewPipeline(&mockStore{}, &mockEmbedder{dim: 3}, log.NewNop(), 1)
		if _, err := p.Ingest(ctx, "", "A.", policy); !errors.Is(err, chunk.ErrEmptyDocumentID) {
			t.Errorf("Ingest() error = %v, want ErrEmptyDocumentID", err)
		}
	})

	t.Run("invalid policy", func(t *testing.T) {
		p := NewPipeline(&mockStore{}, &mockEmbedder{dim: 3}, log.NewNop(), 1)
		if _, err := p.Ingest(ctx, "doc-1", "A.", Policy{MaxChunkLen: 0}); err == nil {
			t.Error("Ingest() with invalid policy should fail")
		}
	})

	t.Run("storage error surfaces", func(t *testing.T) {
		store := &mockStore{replaceErr: errors.New("connection lost")}
		p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 1)
		if _, err := p.Ingest(ctx, "doc-1", "A.", policy); err == nil {
			t.Error("Ingest() should surface storage errors")
		}
	})
}

func TestPipelineIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	text := "First sentence. Second sentence. Third sentence."
	policy := Policy{MaxChunkLen: 20}

	store := &mockStore{}
	p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 2)

	if _, err := p.Ingest(ctx, "doc-1", text, policy); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	first := contentsOf(store.lastChunks)

	if _, err := p.Ingest(ctx, "doc-1", text, policy); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	second := contentsOf(store.lastChunks)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-ingestion changed chunk contents:\n first %q\nsecond %q", first, second)
	}
}

func contentsOf(chunks []chunk.New) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func TestPipelineBackfill(t *testing.T) {
	ctx := context.Background()

	pending := func(ids ...int64) []chunk.Chunk {
		out := make([]chunk.Chunk, len(ids))
		for i, id := range ids {
			out[i] = chunk.Chunk{ID: id, DocumentID: "doc-1", Content: fmt.Sprintf("chunk %d", id)}
		}
		return out
	}

	t.Run("embeds all pending chunks", func(t *testing.T) {
		store := &mockStore{unembedded: pending(1, 2, 3, 4, 5)}
		p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 1)

		result, err := p.Backfill(ctx, 2)
		if err != nil {
			t.Fatalf("Backfill() error = %v", err)
		}
		if result.Embedded != 5 {
			t.Errorf("Embedded = %d, want 5", result.Embedded)
		}
		if result.Failed != 0 {
			t.Errorf("Failed = %d, want 0", result.Failed)
		}
		if len(store.setEmbedding) != 5 {
			t.Errorf("persisted %d embeddings, want 5", len(store.setEmbedding))
		}
	})

	t.Run("failing chunk is skipped, not retried forever", func(t *testing.T) {
		store := &mockStore{unembedded: pending(1, 2, 3)}
		embedder := &mockEmbedder{
			dim: 3,
			failTexts: map[string]error{
				"chunk 2": &embed.ServiceError{Err: errors.New("upstream down")},
			},
		}
		p := NewPipeline(store, embedder, log.NewNop(), 1)

		result, err := p.Backfill(ctx, 10)
		if err != nil {
			t.Fatalf("Backfill() error = %v", err)
		}
		if result.Embedded != 2 || result.Failed != 1 {
			t.Errorf("result = %+v, want 2 embedded / 1 failed", result)
		}
		if _, ok := store.setEmbedding[2]; ok {
			t.Error("failed chunk must keep a null embedding")
		}
	})

	t.Run("canceled between chunks", func(t *testing.T) {
		store := &mockStore{unembedded: pending(1, 2, 3)}
		p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 1)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := p.Backfill(canceled, 10); !errors.Is(err, context.Canceled) {
			t.Errorf("Backfill() error = %v, want context.Canceled", err)
		}
	})

	t.Run("persist failure aborts", func(t *testing.T) {
		store := &mockStore{unembedded: pending(1), setErr: errors.New("disk full")}
		p := NewPipeline(store, &mockEmbedder{dim: 3}, log.NewNop(), 1)

		if _, err := p.Backfill(ctx, 10); err == nil {
			t.Error("Backfill() should surface persistence errors")
		}
	})

	t.Run("invalid batch size", func(t *testing.T) {
		p := NewPipeline(&mockStore{}, &mockEmbedder{dim: 3}, log.NewNop(), 1)
		if _, err := p.Backfill(ctx, 0); err == nil {
			t.Error("Backfill() with batch size 0 should fail")
		}
	})
}
