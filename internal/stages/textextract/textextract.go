// Package textextract implements the first pipeline stage: turning the
// uploaded document blob into plain text. Extraction formats live behind the
// Extractor interface; the shipped implementation handles plain text with
// form-feed page markers, and richer formats plug in without touching the
// stage.
package textextract

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Extractor converts raw document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (text string, pages int, err error)
}

// PlainText extracts UTF-8 text documents, counting form-feed separators as
// page breaks.
type PlainText struct{}

// Extract implements Extractor for plain text content.
func (PlainText) Extract(_ context.Context, data []byte) (string, int, error) {
	text := string(data)
	if !strings.ContainsRune(text, '\f') {
		return text, 1, nil
	}
	pages := strings.Count(text, "\f") + 1
	return strings.ReplaceAll(text, "\f", "\n"), pages, nil
}

// Stage extracts text from uploaded documents.
type Stage struct {
	cfg       *config.Config
	store     *queue.Store
	blobs     blobstore.Store
	extractor Extractor
	logger    *slog.Logger
}

// New constructs the text extraction stage with the default extractor.
func New(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger) *Stage {
	return NewWithExtractor(cfg, store, blobs, logger, PlainText{})
}

// NewWithExtractor allows injecting the extractor (used in tests and for
// richer document formats).
func NewWithExtractor(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger, extractor Extractor) *Stage {
	return &Stage{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		logger:    logging.NewComponentLogger(logger, "textextract"),
	}
}

// TextKey returns the blob key extracted text is stored under.
func TextKey(documentID string) string {
	return "text/" + documentID + ".txt"
}

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	item.ProgressStage = "Extracting"
	item.ProgressMessage = "Preparing text extraction"
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
	if err := env.Require(envelope.KeyDocumentID, "source_key"); err != nil {
		return services.Wrap(services.ErrValidation, "textextract", "validate envelope", err.Error(), nil)
	}

	documentID := env.DocumentID()
	sourceKey := env.String("source_key")

	data, err := s.blobs.Get(ctx, sourceKey)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "textextract", "fetch source",
			"Uploaded document is missing from blob storage", err)
	}

	text, pages, err := s.extractor.Extract(ctx, data)
	if err != nil {
		return services.Wrap(services.ErrValidation, "textextract", "extract text",
			"Document content could not be extracted", err)
	}
	if strings.TrimSpace(text) == "" {
		return services.Wrap(services.ErrValidation, "textextract", "extract text",
			"Document produced no extractable text", nil)
	}

	textKey := TextKey(documentID)
	if err := s.blobs.Put(ctx, textKey, []byte(text)); err != nil {
		return services.Wrap(services.ErrTransient, "textextract", "store text",
			"Extracted text could not be written to blob storage", err)
	}

	env.Set("text_extracted", true)
	env.Set(envelope.KeyTextKey, textKey)
	env.Set("text_length", len(text))
	env.Set("page_count", pages)
	if err := stage.StoreEnvelope(item, env); err != nil {
		return err
	}

	item.ProgressPercent = 100
	item.ProgressMessage = fmt.Sprintf("Extracted %d pages", pages)
	logger.Info("text extraction complete",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Int("pages", pages),
		logging.Int("text_length", len(text)),
	)
	return nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "textextract"
	if s.blobs == nil {
		return stage.Unhealthy(name, "blob store not configured")
	}
	if _, err := s.blobs.Exists(ctx, "text/"); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("blob store unreachable: %v", err))
	}
	return stage.Healthy(name)
}
