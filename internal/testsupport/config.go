package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.BlobDir = filepath.Join(base, "blobs")
	cfg.Embedding.Endpoint = "http://127.0.0.1:0/embed"
	cfg.Extraction.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithStrictExtraction toggles strict schema validation on the test config.
func WithStrictExtraction(strict bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Extraction.Strict = strict
	}
}

// WithChunking sets the chunk window on the test config.
func WithChunking(size, overlap int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Chunking.Size = size
		cfg.Chunking.Overlap = overlap
	}
}
