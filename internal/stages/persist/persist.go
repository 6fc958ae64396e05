// Package persist implements the final pipeline stage: recording the
// extraction outcome in the metadata database. Writes are idempotent under
// redelivery; the same source content never mints a second version.
package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/manifest"
	"docflow/internal/metastore"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Stage persists the pipeline outcome to the metadata store.
type Stage struct {
	cfg    *config.Config
	store  *queue.Store
	blobs  blobstore.Store
	meta   *metastore.Store
	logger *slog.Logger
}

// New constructs the persistence stage.
func New(cfg *config.Config, store *queue.Store, blobs blobstore.Store, meta *metastore.Store, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:    cfg,
		store:  store,
		blobs:  blobs,
		meta:   meta,
		logger: logging.NewComponentLogger(logger, "persist"),
	}
}

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	item.ProgressStage = "Saving"
	item.ProgressMessage = "Preparing persistence"
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
	if err := env.Require(envelope.KeyDocumentID); err != nil {
		return services.Wrap(services.ErrValidation, "persist", "validate envelope", err.Error(), nil)
	}
	documentID := env.DocumentID()
	prefix := env.String(envelope.KeyEmbeddingsPrefix)

	contentSHA, err := s.contentHash(ctx, env)
	if err != nil {
		return err
	}

	version, err := s.meta.FindVersionByContent(ctx, documentID, contentSHA)
	if err != nil {
		return services.Wrap(services.ErrTransient, "persist", "find version",
			"Metadata store lookup failed", err)
	}
	if version == 0 {
		version, err = s.meta.NextVersion(ctx, documentID)
		if err != nil {
			return services.Wrap(services.ErrTransient, "persist", "next version",
				"Metadata store lookup failed", err)
		}
	} else {
		logger.Info("content already persisted, reusing version",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Int("version", version),
		)
	}

	row, err := s.buildVersion(env, documentID, version, contentSHA)
	if err != nil {
		return err
	}
	if err := s.meta.PutVersion(ctx, row); err != nil {
		return services.Wrap(services.ErrTransient, "persist", "put version",
			"Version row could not be written", err)
	}
	if err := s.meta.UpdateLatest(ctx, documentID, version, time.Now().UTC()); err != nil {
		return services.Wrap(services.ErrTransient, "persist", "update latest",
			"Latest pointer could not be updated", err)
	}

	refs, err := s.chunkRefs(ctx, prefix)
	if err != nil {
		return err
	}
	if err := s.meta.PutChunkRefs(ctx, documentID, refs); err != nil {
		return services.Wrap(services.ErrTransient, "persist", "put chunk refs",
			"Chunk references could not be written", err)
	}

	env.Set("persisted_version", version)
	if err := stage.StoreEnvelope(item, env); err != nil {
		return err
	}

	item.ProgressPercent = 100
	item.ProgressMessage = fmt.Sprintf("Persisted version %d", version)
	logger.Info("persistence complete",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Int("version", version),
		logging.Int("chunk_refs", len(refs)),
	)
	return nil
}

// contentHash resolves the source content hash, preferring the completion
// manifest and falling back to hashing the stored text.
func (s *Stage) contentHash(ctx context.Context, env *envelope.Envelope) (string, error) {
	if prefix := env.String(envelope.KeyEmbeddingsPrefix); prefix != "" {
		m, state, err := manifest.Load(ctx, s.blobs, manifest.Key(prefix))
		if err != nil {
			return "", services.Wrap(services.ErrTransient, "persist", "load manifest",
				"Completion manifest could not be read", err)
		}
		if state != manifest.StateAbsent && m != nil && m.ContentSHA256 != "" {
			return m.ContentSHA256, nil
		}
	}
	textKey := env.String(envelope.KeyTextKey)
	if textKey == "" {
		return "", nil
	}
	data, err := s.blobs.Get(ctx, textKey)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "persist", "fetch text",
			"Extracted text is missing from blob storage", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Stage) buildVersion(env *envelope.Envelope, documentID string, version int, contentSHA string) (*metastore.Version, error) {
	row := &metastore.Version{
		DocumentID:       documentID,
		Version:          version,
		ContentSHA256:    contentSHA,
		TextKey:          env.String(envelope.KeyTextKey),
		EmbeddingsPrefix: env.String(envelope.KeyEmbeddingsPrefix),
	}
	if chunks, ok := env.Int(envelope.KeyChunksCreated); ok {
		row.ChunksCreated = chunks
	}
	if persisted, ok := env.Int(envelope.KeyEmbeddingsPersisted); ok {
		row.EmbeddingsPersisted = persisted
	}

	if raw, ok := env.Get("structured_data"); ok {
		data, ok := raw.(map[string]any)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "persist", "decode data",
				"Structured data has an unexpected shape", nil)
		}
		if client, ok := data["client_name"].(string); ok {
			row.ClientName = client
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "persist", "encode data",
				"Structured data could not be serialized", err)
		}
		row.DataJSON = string(encoded)
	}

	validation := map[string]any{}
	if passed, ok := env.Get("validation_passed"); ok {
		validation["passed"] = passed
		row.ValidationPassed = passed == true
	}
	if errs, ok := env.Get("validation_errors"); ok {
		validation["errors"] = errs
	}
	if warnings, ok := env.Get("validation_warnings"); ok {
		validation["warnings"] = warnings
	}
	if len(validation) > 0 {
		encoded, err := json.Marshal(validation)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "persist", "encode validation",
				"Validation result could not be serialized", err)
		}
		row.ValidationJSON = string(encoded)
	}
	return row, nil
}

// chunkRefs lists the persisted embedding artifacts under prefix. Failed
// chunks leave index gaps; the listing reflects what actually landed.
func (s *Stage) chunkRefs(ctx context.Context, prefix string) ([]metastore.ChunkRef, error) {
	if prefix == "" {
		return nil, nil
	}
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "persist", "list artifacts",
			"Embedding artifacts could not be listed", err)
	}
	var refs []metastore.ChunkRef
	for _, key := range keys {
		base := path.Base(key)
		if !strings.HasSuffix(base, ".json") || base == "manifest.json" {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(base, ".json"))
		if err != nil {
			continue
		}
		refs = append(refs, metastore.ChunkRef{Index: index, BlobKey: key})
	}
	return refs, nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "persist"
	if s.meta == nil {
		return stage.Unhealthy(name, "metadata store not configured")
	}
	return stage.Healthy(name)
}
