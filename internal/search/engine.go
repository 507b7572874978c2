// Package search ranks stored chunks by cosine similarity against a query.
// The engine is stateless per call; result determinism for a fixed store
// snapshot comes from the store's ordering guarantees.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragstore/ragstore/internal/chunk"
)

// DefaultTopK is the result limit applied when WithTopK is not given.
const DefaultTopK = 5

// defaultTimeout caps a single search, embedding call included, so a slow
// vector scan cannot block the caller indefinitely.
const defaultTimeout = 10 * time.Second

// Searcher is the ranking surface the engine needs. chunk.Store satisfies
// it; tests substitute a mock.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, topK int32, minSimilarity float32) ([]chunk.Result, error)
}

// Embedder turns query text into a validated vector. embed.Client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures a search using the functional options pattern.
type Option func(*config)

type config struct {
	topK          int32
	minSimilarity float32
	timeout       time.Duration
}

// WithTopK sets the maximum number of results. Default is DefaultTopK.
func WithTopK(k int32) Option {
	return func(c *config) {
		c.topK = k
	}
}

// WithMinSimilarity filters out results with similarity at or below min.
// Default is 0.
func WithMinSimilarity(min float32) Option {
	return func(c *config) {
		c.minSimilarity = min
	}
}

// WithTimeout overrides the per-search timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

func buildConfig(opts []Option) (*config, error) {
	cfg := &config{
		topK:          DefaultTopK,
		minSimilarity: 0,
		timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.topK < 1 {
		return nil, fmt.Errorf("topK must be at least 1, got %d", cfg.topK)
	}
	if cfg.minSimilarity < 0 || cfg.minSimilarity > 1 {
		return nil, fmt.Errorf("min similarity must be in [0, 1], got %g", cfg.minSimilarity)
	}
	return cfg, nil
}

// Engine answers similarity queries over the chunk store.
type Engine struct {
	searcher Searcher
	embedder Embedder
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(searcher Searcher, embedder Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{searcher: searcher, embedder: embedder, logger: logger}
}

// Search embeds queryText and ranks stored chunks against it. No match is
// an empty list, never an error.
//
// Example:
//
//	results, err := engine.Search(ctx, "quarterly revenue",
//	    search.WithTopK(10), search.WithMinSimilarity(0.7))
func (e *Engine) Search(ctx context.Context, queryText string, opts ...Option) ([]chunk.Result, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	queryVec, err := e.embedder.Embed(queryCtx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return e.run(queryCtx, queryVec, cfg)
}

// SearchVector ranks stored chunks against a caller-supplied vector. The
// vector must match the active dimension; the store rejects it otherwise.
func (e *Engine) SearchVector(ctx context.Context, queryVec []float32, opts ...Option) ([]chunk.Result, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	return e.run(queryCtx, queryVec, cfg)
}

func (e *Engine) run(ctx context.Context, queryVec []float32, cfg *config) ([]chunk.Result, error) {
	results, err := e.searcher.Search(ctx, queryVec, cfg.topK, cfg.minSimilarity)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search completed",
		"top_k", cfg.topK,
		"min_similarity", cfg.minSimilarity,
		"results", len(results))

	return results, nil
}
