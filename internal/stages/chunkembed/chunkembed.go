// Package chunkembed implements the chunk-and-embed pipeline stage. The stage
// is gated by a completion manifest: a complete manifest from a previous run
// means the expensive embedding work is skipped entirely and the stored counts
// are forwarded instead. The manifest is only ever written after every chunk
// artifact and the admission gate have succeeded, which is what makes the skip
// decision safe under redelivery.
package chunkembed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"docflow/internal/blobstore"
	"docflow/internal/chunker"
	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/manifest"
	"docflow/internal/queue"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/embed"
	"docflow/internal/stage"
)

// Embedder produces an embedding vector for a chunk of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	HealthCheck(ctx context.Context) error
}

// Stage chunks extracted text and embeds each chunk.
type Stage struct {
	cfg      *config.Config
	store    *queue.Store
	blobs    blobstore.Store
	embedder Embedder
	policy   retry.Policy
	logger   *slog.Logger
}

// New constructs the stage with an embedding client built from configuration.
func New(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger) *Stage {
	client := embed.NewClient(embed.Config{
		Endpoint:       cfg.Embedding.Endpoint,
		Model:          cfg.Embedding.Model,
		TimeoutSeconds: cfg.Embedding.TimeoutSeconds,
	})
	return NewWithEmbedder(cfg, store, blobs, logger, client)
}

// NewWithEmbedder allows injecting the embedder.
func NewWithEmbedder(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger, embedder Embedder) *Stage {
	return &Stage{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		embedder: embedder,
		policy: retry.Policy{
			MaxAttempts: cfg.Embedding.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Embedding.BaseDelaySeconds) * time.Second,
			MaxDelay:    time.Duration(cfg.Embedding.MaxDelaySeconds) * time.Second,
			Jitter:      0.2,
			Retryable:   embed.IsRetryable,
		},
		logger: logging.NewComponentLogger(logger, "chunkembed"),
	}
}

// EmbeddingsPrefix returns the blob prefix a document's embedding artifacts
// live under.
func EmbeddingsPrefix(documentID string) string {
	return "embeddings/" + documentID + "/"
}

func chunkKey(prefix string, index int) string {
	return fmt.Sprintf("%s%05d.json", prefix, index)
}

// artifact is the stored per-chunk record.
type artifact struct {
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Model      string    `json:"model"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding"`
}

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	item.ProgressStage = "Embedding"
	item.ProgressMessage = "Preparing chunking and embedding"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	return nil
}

func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)

	env, err := stage.LoadEnvelope(item)
	if err != nil {
		return err
	}
	if err := env.Require(envelope.KeyDocumentID, envelope.KeyTextKey); err != nil {
		return services.Wrap(services.ErrValidation, "chunkembed", "validate envelope", err.Error(), nil)
	}

	documentID := env.DocumentID()
	textKey := env.String(envelope.KeyTextKey)
	prefix := EmbeddingsPrefix(documentID)
	manifestKey := manifest.Key(prefix)

	existing, state, err := manifest.Load(ctx, s.blobs, manifestKey)
	if err != nil {
		return services.Wrap(services.ErrTransient, "chunkembed", "load manifest",
			"Completion manifest could not be read", err)
	}
	if state == manifest.StateComplete {
		logger.Info("complete manifest found, skipping embedding",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Int("chunks", existing.Chunks),
		)
		item.ProgressPercent = 100
		item.ProgressMessage = "Embeddings already complete"
		return s.finish(item, env, prefix, existing.Chunks, existing.Embedded)
	}
	if state == manifest.StatePartial {
		logger.Warn("partial manifest found, re-running embedding",
			logging.String(logging.FieldDocumentID, documentID),
		)
	}

	data, err := s.blobs.Get(ctx, textKey)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "chunkembed", "fetch text",
			"Extracted text is missing from blob storage", err)
	}
	text := string(data)

	chunks, err := chunker.Split(text, chunker.Options{
		Size:    s.cfg.Chunking.Size,
		Overlap: s.cfg.Chunking.Overlap,
	})
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "chunkembed", "split text",
			"Chunking options are invalid", err)
	}
	if len(chunks) == 0 {
		return services.Wrap(services.ErrValidation, "chunkembed", "split text",
			"Document text produced no chunks", nil)
	}

	persisted := 0
	failed := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		vector, err := s.embedChunk(ctx, chunk.Text)
		if err != nil {
			failed++
			logger.Warn("chunk embedding failed",
				logging.String(logging.FieldDocumentID, documentID),
				logging.Int("chunk_index", chunk.Index),
				logging.Error(err),
			)
			continue
		}
		record := artifact{
			DocumentID: documentID,
			Index:      chunk.Index,
			Model:      s.cfg.Embedding.Model,
			Text:       chunk.Text,
			Embedding:  vector,
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return services.Wrap(services.ErrValidation, "chunkembed", "encode artifact",
				"Chunk artifact could not be serialized", err)
		}
		if err := s.blobs.Put(ctx, chunkKey(prefix, chunk.Index), encoded); err != nil {
			return services.Wrap(services.ErrTransient, "chunkembed", "store artifact",
				"Chunk artifact could not be written to blob storage", err)
		}
		persisted++
		item.ProgressPercent = float64(persisted+failed) / float64(len(chunks)) * 100
	}

	ratio := float64(persisted) / float64(len(chunks))
	if ratio < s.cfg.Embedding.MinSuccessRatio {
		// No manifest on failure: the next delivery must re-run the work.
		return services.Wrap(services.ErrThreshold, "chunkembed", "admission gate",
			fmt.Sprintf("Embedded %d of %d chunks (%.2f), below the minimum success ratio %.2f",
				persisted, len(chunks), ratio, s.cfg.Embedding.MinSuccessRatio), nil)
	}

	sum := sha256.Sum256(data)
	// The manifest is written last. Its presence is the proof that every
	// artifact above already landed.
	err = manifest.Write(ctx, s.blobs, manifestKey, &manifest.Manifest{
		DocumentID:       documentID,
		EmbeddingsPrefix: prefix,
		Model:            s.cfg.Embedding.Model,
		Chunks:           len(chunks),
		Embedded:         persisted,
		ContentSHA256:    hex.EncodeToString(sum[:]),
		SuccessRatio:     ratio,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "chunkembed", "write manifest",
			"Completion manifest could not be written", err)
	}

	logger.Info("chunk embedding complete",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Int("chunks", len(chunks)),
		logging.Int("persisted", persisted),
		logging.Int("failed", failed),
	)
	item.ProgressPercent = 100
	item.ProgressMessage = fmt.Sprintf("Embedded %d of %d chunks", persisted, len(chunks))
	return s.finish(item, env, prefix, len(chunks), persisted)
}

// finish whitelists the envelope down to the keys the structuring stage is
// contracted to receive and stores it on the item.
func (s *Stage) finish(item *queue.Item, env *envelope.Envelope, prefix string, chunks, persisted int) error {
	env.Set(envelope.KeyEmbeddingsPrefix, prefix)
	env.Set(envelope.KeyChunksCreated, chunks)
	env.Set(envelope.KeyEmbeddingsPersisted, persisted)
	out := env.Whitelist(
		envelope.KeyDocumentID,
		envelope.KeyTextKey,
		envelope.KeyEmbeddingsPrefix,
		envelope.KeyChunksCreated,
		envelope.KeyEmbeddingsPersisted,
	)
	return stage.StoreEnvelope(item, out)
}

func (s *Stage) embedChunk(ctx context.Context, text string) ([]float64, error) {
	var vector []float64
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = s.embedder.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "chunkembed"
	if s.cfg.Embedding.Endpoint == "" {
		return stage.Unhealthy(name, "embedding endpoint not configured")
	}
	if err := s.embedder.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("embedding endpoint unreachable: %v", err))
	}
	return stage.Healthy(name)
}
