package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey is the advisory lock key guarding dimension migrations.
// Only one migration may be in flight at a time, cluster-wide.
const migrationLockKey int64 = 0x7261677374646d31 // "ragstdm1"

// defaultBatchSize bounds each invalidation UPDATE so a long migration is
// interruptible between batches and never holds a huge row lock set.
const defaultBatchSize = 5000

// ErrMigrationInProgress indicates another dimension migration holds the
// advisory lock.
var ErrMigrationInProgress = errors.New("dimension migration already in progress")

// MigrationResult reports the outcome of a dimension migration.
type MigrationResult struct {
	// Invalidated is the number of embeddings nulled by this run.
	Invalidated int64

	// Backlog is the total number of chunks without an embedding after the
	// migration, i.e. the re-embedding work left for backfill.
	Backlog int64
}

// Migrator changes the stored embedding dimension when the upstream
// embedding model changes. Text and metadata are preserved; vectors of a
// different width are invalidated (nulled), never reinterpreted.
//
// The migration is idempotent: re-running after a partial failure re-nulls
// nothing (already-null embeddings are skipped) and finishes the job.
type Migrator struct {
	pool      *pgxpool.Pool
	registry  *Registry
	logger    *slog.Logger
	batchSize int
}

// NewMigrator creates a Migrator. batchSize <= 0 selects the default.
func NewMigrator(pool *pgxpool.Pool, registry *Registry, logger *slog.Logger, batchSize int) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Migrator{pool: pool, registry: registry, logger: logger, batchSize: batchSize}
}

// Migrate switches the corpus to newDim. Steps, each durable before the
// next:
//
//  1. record newDim as pending in embedding_config
//  2. null all embeddings whose width != newDim, in bounded batches
//  3. commit newDim as active and clear pending
//  4. report the re-embedding backlog
//
// On any persistent error the active dimension is left untouched and the
// run can simply be repeated. Cancellation is honored between batches.
func (m *Migrator) Migrate(ctx context.Context, newDim int) (MigrationResult, error) {
	var result MigrationResult

	if newDim <= 0 {
		return result, fmt.Errorf("invalid target dimension %d", newDim)
	}

	// Serialize migrations cluster-wide. The advisory lock lives on a
	// dedicated connection held for the whole run.
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, migrationLockKey).Scan(&locked); err != nil {
		return result, fmt.Errorf("failed to take migration lock: %w", err)
	}
	if !locked {
		return result, ErrMigrationInProgress
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			m.logger.Warn("failed to release migration lock", "error", err)
		}
	}()

	m.logger.Info("dimension migration started", "from", m.registry.Current(), "to", newDim)

	// Step 1: durable pending marker.
	if _, err := conn.Exec(ctx,
		`UPDATE embedding_config SET pending_dimension = $1, updated_at = now() WHERE singleton`,
		newDim,
	); err != nil {
		return result, fmt.Errorf("failed to record pending dimension: %w", err)
	}

	// Step 2: invalidate mismatched vectors in batches. Each UPDATE is its
	// own transaction, so an interrupted run leaves only fully-nulled
	// batches behind and is safe to repeat.
	for {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("migration canceled: %w", ctx.Err())
		default:
		}

		tag, err := conn.Exec(ctx, `
			UPDATE chunks SET embedding = NULL
			WHERE id IN (
				SELECT id FROM chunks
				WHERE embedding IS NOT NULL AND vector_dims(embedding) <> $1
				ORDER BY id
				LIMIT $2
			)`, newDim, m.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to invalidate embeddings: %w", err)
		}
		if tag.RowsAffected() == 0 {
			break
		}
		result.Invalidated += tag.RowsAffected()
		m.logger.Debug("invalidated embedding batch", "rows", tag.RowsAffected(), "total", result.Invalidated)
	}

	// Step 3: commit the new active dimension.
	if _, err := conn.Exec(ctx,
		`UPDATE embedding_config SET dimension = $1, pending_dimension = NULL, updated_at = now() WHERE singleton`,
		newDim,
	); err != nil {
		return result, fmt.Errorf("failed to commit dimension %d: %w", newDim, err)
	}

	if err := m.registry.Reload(ctx); err != nil {
		return result, fmt.Errorf("dimension committed but registry reload failed: %w", err)
	}

	// Step 4: surface the backfill workload.
	if err := conn.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE embedding IS NULL`,
	).Scan(&result.Backlog); err != nil {
		return result, fmt.Errorf("failed to count re-embedding backlog: %w", err)
	}

	m.logger.Info("dimension migration completed",
		"dimension", newDim,
		"invalidated", result.Invalidated,
		"backlog", result.Backlog)

	return result, nil
}
