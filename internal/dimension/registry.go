// Package dimension tracks the embedding width in force for the chunk
// corpus and owns the only code path allowed to change it.
//
// All non-null embeddings in the store share exactly one width D. The
// registry answers "what is D" and validates candidate vectors; the
// Migrator (migrator.go) changes D when the upstream embedding model
// changes, invalidating every vector of a different width.
package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MismatchError reports a vector whose width disagrees with the active
// registry dimension. Mismatched vectors are always rejected, never
// truncated or padded.
type MismatchError struct {
	Want int
	Got  int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// IsMismatch reports whether err is (or wraps) a MismatchError.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}

// Registry exposes the active embedding dimension. The value is loaded
// once from the embedding_config table and cached; it only changes when
// the Migrator commits a new dimension, which calls Reload.
//
// Registry is safe for concurrent use.
type Registry struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	dim    atomic.Int64
}

// NewRegistry loads the active dimension from the database and returns a
// ready registry.
func NewRegistry(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{pool: pool, logger: logger}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the active embedding dimension D.
func (r *Registry) Current() int {
	return int(r.dim.Load())
}

// Validate returns a MismatchError when vec's width differs from the
// active dimension.
func (r *Registry) Validate(vec []float32) error {
	want := r.Current()
	if len(vec) != want {
		return &MismatchError{Want: want, Got: len(vec)}
	}
	return nil
}

// Reload re-reads the active dimension from the database. Called by the
// Migrator after a commit; other components never need it.
func (r *Registry) Reload(ctx context.Context) error {
	var dim int64
	err := r.pool.QueryRow(ctx,
		`SELECT dimension FROM embedding_config WHERE singleton`,
	).Scan(&dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("embedding_config not initialized, run schema migrations first: %w", err)
		}
		return fmt.Errorf("failed to load embedding dimension: %w", err)
	}
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d in embedding_config", dim)
	}

	r.dim.Store(dim)
	r.logger.Debug("embedding dimension loaded", "dimension", dim)
	return nil
}
