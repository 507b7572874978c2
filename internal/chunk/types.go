package chunk

import "time"

// Chunk is the atomic retrieval unit: a contiguous slice of a document's
// text stored with its own embedding.
type Chunk struct {
	ID         int64             // Surrogate key assigned by the store
	DocumentID string            // Opaque reference to the owning document
	Index      int32             // Zero-based position within the document
	Content    string            // Raw chunk text, never empty
	Embedding  []float32         // nil when not yet computed or invalidated
	Metadata   map[string]string // Opaque key-value metadata
	CreatedAt  time.Time
}

// HasEmbedding reports whether the chunk currently carries a vector.
func (c Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// New describes a chunk to be written by Replace. Index is assigned by the
// store from slice position; Embedding may be nil and filled in later via
// SetEmbedding.
type New struct {
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Result is a single similarity-search hit.
type Result struct {
	Chunk
	Similarity float32 // Cosine similarity, 1 - cosine distance
}
