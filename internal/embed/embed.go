// Package embed defines the boundary to the external embedding model and
// the client-side policies applied to it: dimension validation, bounded
// retry, and request rate limiting. The model itself is a collaborator;
// this package never computes vectors.
package embed

import (
	"context"
)

// Embedder produces a fixed-length vector for a piece of text. The vector
// width is decided by the upstream model; callers validate it against the
// dimension registry before persisting anything.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ServiceError wraps an upstream embedding service failure. During
// ingestion these are retried with bounded attempts, then recorded as a
// missing-embedding chunk rather than failing the whole document.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string {
	return "embedding service: " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
