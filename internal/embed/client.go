package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultMaxAttempts bounds retries of a failing embedding call.
const DefaultMaxAttempts = 3

// DimensionValidator rejects vectors whose width disagrees with the
// active registry dimension. dimension.Registry satisfies it.
type DimensionValidator interface {
	Validate(vec []float32) error
}

// Client decorates an Embedder with the policies ingestion and search
// rely on:
//
//   - every returned vector is validated against the active dimension, so
//     an upstream model that changed width unannounced is rejected with a
//     dimension.MismatchError instead of poisoning the store
//   - transient failures are retried with exponential backoff, at most
//     MaxAttempts times
//   - calls are throttled through an optional rate limiter
type Client struct {
	embedder    Embedder
	registry    DimensionValidator
	limiter     *rate.Limiter
	maxAttempts uint64
	logger      *slog.Logger
}

// NewClient creates a Client. limiter may be nil to disable throttling;
// maxAttempts <= 0 selects DefaultMaxAttempts.
func NewClient(embedder Embedder, registry DimensionValidator, limiter *rate.Limiter, maxAttempts int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Client{
		embedder:    embedder,
		registry:    registry,
		limiter:     limiter,
		maxAttempts: uint64(maxAttempts),
		logger:      logger,
	}
}

// Embed returns a validated vector for text. A dimension mismatch is
// never retried; service failures are retried up to MaxAttempts before
// the last error is returned.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit wait: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 0 // attempt count bounds the retry loop

	attempt := 0
	vec, err := backoff.RetryWithData(func() ([]float32, error) {
		attempt++
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			c.logger.Debug("embedding attempt failed", "attempt", attempt, "error", err)
			return nil, err
		}
		if err := c.registry.Validate(v); err != nil {
			// The upstream model changed width; retrying cannot help.
			return nil, backoff.Permanent(err)
		}
		return v, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}

	return vec, nil
}
