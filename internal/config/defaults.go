package config

const (
	defaultDataDir                   = "~/.local/share/docflow"
	defaultLogDir                    = "~/.local/share/docflow/logs"
	defaultBlobDir                   = "~/.local/share/docflow/blobs"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLogRetentionDays          = 60
	defaultChunkSize                 = 1000
	defaultChunkOverlap              = 100
	defaultEmbeddingModel            = "text-embedding-3-small"
	defaultEmbeddingMaxAttempts      = 5
	defaultEmbeddingBaseDelaySeconds = 2
	defaultEmbeddingMaxDelaySeconds  = 8
	defaultEmbeddingMinSuccessRatio  = 0.95
	defaultEmbeddingTimeoutSeconds   = 30
	defaultExtractionBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultExtractionModel           = "google/gemini-3-flash-preview"
	defaultExtractionMaxAttempts     = 4
	defaultExtractionTimeoutSeconds  = 60
	defaultExtractionMaxChars        = 50000
	defaultWorkflowPollInterval      = 5
	defaultWorkflowErrorRetry        = 10
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultNotifyRequestTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			BlobDir: defaultBlobDir,
		},
		Chunking: Chunking{
			Size:    defaultChunkSize,
			Overlap: defaultChunkOverlap,
		},
		Embedding: Embedding{
			Model:            defaultEmbeddingModel,
			MaxAttempts:      defaultEmbeddingMaxAttempts,
			BaseDelaySeconds: defaultEmbeddingBaseDelaySeconds,
			MaxDelaySeconds:  defaultEmbeddingMaxDelaySeconds,
			MinSuccessRatio:  defaultEmbeddingMinSuccessRatio,
			TimeoutSeconds:   defaultEmbeddingTimeoutSeconds,
		},
		Extraction: Extraction{
			BaseURL:          defaultExtractionBaseURL,
			Model:            defaultExtractionModel,
			MaxAttempts:      defaultExtractionMaxAttempts,
			TimeoutSeconds:   defaultExtractionTimeoutSeconds,
			MaxDocumentChars: defaultExtractionMaxChars,
			Strict:           true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Errors:         true,
			Review:         true,
			Queue:          true,
		},
	}
}
