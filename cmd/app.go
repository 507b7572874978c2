package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/ragstore/ragstore/db"
	"github.com/ragstore/ragstore/internal/chunk"
	"github.com/ragstore/ragstore/internal/config"
	"github.com/ragstore/ragstore/internal/dimension"
	"github.com/ragstore/ragstore/internal/embed"
	"github.com/ragstore/ragstore/internal/log"
)

// app bundles the wired components every command needs. Construction is
// explicit: config, logger, schema migrations, pool, registry, store —
// opened at command start, closed when the command returns.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	pool     *pgxpool.Pool
	registry *dimension.Registry
	store    *chunk.Store
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLogLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("failed to run schema migrations: %w", err)
	}

	pool, err := db.OpenPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}

	registry, err := dimension.NewRegistry(ctx, pool, logger.With("component", "dimension"))
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := chunk.NewStore(pool, registry, logger.With("component", "chunkstore"))

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		registry: registry,
		store:    store,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// embedClient wires the Gemini embedder behind the retry/rate-limit/
// dimension-validation client. Requires GEMINI_API_KEY.
func (a *app) embedClient(ctx context.Context) (*embed.Client, error) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	embedder := googlegenai.GoogleAIEmbedder(g, a.cfg.EmbedderModel)

	limiter := rate.NewLimiter(rate.Limit(a.cfg.EmbedRatePerSec), 1)

	return embed.NewClient(
		embed.NewGenkit(embedder),
		a.registry,
		limiter,
		a.cfg.EmbedMaxAttempts,
		a.logger.With("component", "embedder"),
	), nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
