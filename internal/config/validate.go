package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. Violations here are fatal at
// startup; nothing downstream re-checks these.
func (c *Config) Validate() error {
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateChunking() error {
	if c.Chunking.Size <= 0 {
		return errors.New("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 {
		return errors.New("chunking.overlap must not be negative")
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.MinSuccessRatio < 0 || c.Embedding.MinSuccessRatio > 1 {
		return errors.New("embedding.min_success_ratio must be between 0 and 1")
	}
	if err := ensurePositiveMap(map[string]int{
		"embedding.max_attempts":       c.Embedding.MaxAttempts,
		"embedding.base_delay_seconds": c.Embedding.BaseDelaySeconds,
		"embedding.max_delay_seconds":  c.Embedding.MaxDelaySeconds,
		"embedding.timeout_seconds":    c.Embedding.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Embedding.MaxDelaySeconds < c.Embedding.BaseDelaySeconds {
		return errors.New("embedding.max_delay_seconds must be >= embedding.base_delay_seconds")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	return ensurePositiveMap(map[string]int{
		"extraction.max_attempts":       c.Extraction.MaxAttempts,
		"extraction.timeout_seconds":    c.Extraction.TimeoutSeconds,
		"extraction.max_document_chars": c.Extraction.MaxDocumentChars,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
