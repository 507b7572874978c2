package config

import "fmt"

var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for values that would make a
// component fail later. Returns a wrapped sentinel error for the first
// problem found.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedRatePerSec <= 0 {
		return fmt.Errorf("%w: rate %g must be positive", ErrInvalidEmbedRate, c.EmbedRatePerSec)
	}
	if c.EmbedMaxAttempts < 1 {
		return fmt.Errorf("%w: embed_max_attempts %d must be at least 1", ErrInvalidEmbedRate, c.EmbedMaxAttempts)
	}

	if c.ChunkMaxLen < 1 {
		return fmt.Errorf("%w: chunk_max_len %d must be at least 1", ErrInvalidChunkPolicy, c.ChunkMaxLen)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxLen {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_max_len)", ErrInvalidChunkPolicy, c.ChunkOverlap)
	}
	if c.IngestParallelism < 1 {
		return fmt.Errorf("%w: ingest_parallelism %d must be at least 1", ErrInvalidChunkPolicy, c.IngestParallelism)
	}

	return nil
}
