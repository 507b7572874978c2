// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (RAGSTORE_* and DATABASE_URL)
//  2. Config file (~/.ragstore/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation is fail-fast: Load returns an error for an unusable
// configuration instead of letting a component discover it later.
// Sentinel errors allow errors.Is checks at call sites.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates an unknown sslmode value.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunkPolicy indicates unusable chunking parameters.
	ErrInvalidChunkPolicy = errors.New("invalid chunk policy")

	// ErrInvalidEmbedRate indicates a non-positive embedding rate limit.
	ErrInvalidEmbedRate = errors.New("invalid embedding rate limit")
)

// DefaultEmbedderModel is the default Gemini embedding model. It outputs
// 768-dimension vectors, matching the dimension the schema migration
// seeds into embedding_config.
const DefaultEmbedderModel = "text-embedding-004"

// Config stores application configuration.
type Config struct {
	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding collaborator
	EmbedderModel    string  `mapstructure:"embedder_model"`
	EmbedRatePerSec  float64 `mapstructure:"embed_rate_per_sec"`
	EmbedMaxAttempts int     `mapstructure:"embed_max_attempts"`

	// Ingestion
	ChunkMaxLen       int `mapstructure:"chunk_max_len"`
	ChunkOverlap      int `mapstructure:"chunk_overlap"`
	IngestParallelism int `mapstructure:"ingest_parallelism"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration with environment > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragstore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("RAGSTORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragstore")
	v.SetDefault("postgres_password", "ragstore_dev_password")
	v.SetDefault("postgres_db_name", "ragstore")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embed_rate_per_sec", 5.0)
	v.SetDefault("embed_max_attempts", 3)

	v.SetDefault("chunk_max_len", 1000)
	v.SetDefault("chunk_overlap", 100)
	v.SetDefault("ingest_parallelism", 4)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}
