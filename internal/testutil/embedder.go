package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashEmbedder is a deterministic embed.Embedder for tests: the vector is
// derived from a SHA-256 stream over the text and L2-normalized, so equal
// texts embed identically and cosine similarity of a text with itself
// is 1. No network, no flakiness.
type HashEmbedder struct {
	Dim int
}

// Embed returns the normalized hash-derived vector for text.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dim)

	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for i := range vec {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4:])
		// Map to (-1, 1).
		v := float32(int32(bits)) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

// UnitVector returns a D-length vector with 1 at position idx. Handy for
// constructing corpora with known cosine similarities.
func UnitVector(d, idx int) []float32 {
	vec := make([]float32, d)
	vec[idx] = 1
	return vec
}
