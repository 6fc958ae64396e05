package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEmbedding()
	c.normalizeExtraction()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.Endpoint = strings.TrimSpace(c.Embedding.Endpoint)
	if c.Embedding.Endpoint == "" {
		if value, ok := os.LookupEnv("DOCFLOW_EMBEDDING_ENDPOINT"); ok {
			c.Embedding.Endpoint = strings.TrimSpace(value)
		}
	}
	c.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel
	}
	if c.Embedding.MaxAttempts <= 0 {
		c.Embedding.MaxAttempts = defaultEmbeddingMaxAttempts
	}
	if c.Embedding.BaseDelaySeconds <= 0 {
		c.Embedding.BaseDelaySeconds = defaultEmbeddingBaseDelaySeconds
	}
	if c.Embedding.MaxDelaySeconds <= 0 {
		c.Embedding.MaxDelaySeconds = defaultEmbeddingMaxDelaySeconds
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = defaultEmbeddingTimeoutSeconds
	}
}

func (c *Config) normalizeExtraction() {
	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	if c.Extraction.APIKey == "" {
		if value, ok := os.LookupEnv("DOCFLOW_EXTRACTION_API_KEY"); ok {
			c.Extraction.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Extraction.APIKey = strings.TrimSpace(value)
		}
	}
	c.Extraction.BaseURL = strings.TrimSpace(c.Extraction.BaseURL)
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultExtractionBaseURL
	}
	c.Extraction.Model = strings.TrimSpace(c.Extraction.Model)
	if c.Extraction.Model == "" {
		c.Extraction.Model = defaultExtractionModel
	}
	if c.Extraction.MaxAttempts <= 0 {
		c.Extraction.MaxAttempts = defaultExtractionMaxAttempts
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeoutSeconds
	}
	if c.Extraction.MaxDocumentChars <= 0 {
		c.Extraction.MaxDocumentChars = defaultExtractionMaxChars
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
