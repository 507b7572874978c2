package embed

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"
)

// genkitEmbedder bridges a Genkit ai.Embedder to the Embedder interface.
type genkitEmbedder struct {
	embedder ai.Embedder
}

// NewGenkit wraps a Genkit ai.Embedder (e.g. googlegenai's
// text-embedding-004) as an Embedder.
func NewGenkit(embedder ai.Embedder) Embedder {
	return &genkitEmbedder{embedder: embedder}
}

func (g *genkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
	})
	if err != nil {
		return nil, &ServiceError{Err: err}
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, &ServiceError{Err: errors.New("empty embedding returned")}
	}

	return resp.Embeddings[0].Embedding, nil
}
