// Package structured implements the structured-extraction pipeline stage: an
// LLM reads the document text and returns the contract fields as JSON. In
// strict mode the response must conform to the closed-world field schema or
// the item is routed to review; lenient mode coerces what it can and nulls the
// rest.
package structured

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/contract"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/schema"
	"docflow/internal/services"
	"docflow/internal/services/llm"
	"docflow/internal/stage"
)

const systemPrompt = `You extract structured data from contract documents
(statements of work and purchase orders). Respond with a single JSON object
containing exactly these keys: client_name, contract_value, start_date,
end_date, po_number, ir35_status, day_rates, signatures_present.
Dates use YYYY-MM-DD. contract_value is a number without currency symbols.
ir35_status is one of "Inside", "Outside", "Not Specified". day_rates is an
array of {"role","rate","currency"} objects. signatures_present is a boolean.
Use null for anything the document does not state. Do not invent values.`

// Completer is the LLM surface the stage needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	HealthCheck(ctx context.Context) error
}

// Stage extracts contract fields from document text.
type Stage struct {
	cfg       *config.Config
	store     *queue.Store
	blobs     blobstore.Store
	completer Completer
	logger    *slog.Logger
}

// New constructs the stage with an LLM client built from configuration.
func New(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger) *Stage {
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.Extraction.APIKey,
		BaseURL:        cfg.Extraction.BaseURL,
		Model:          cfg.Extraction.Model,
		TimeoutSeconds: cfg.Extraction.TimeoutSeconds,
		MaxAttempts:    cfg.Extraction.MaxAttempts,
	})
	return NewWithCompleter(cfg, store, blobs, logger, client)
}

// NewWithCompleter allows injecting the LLM client.
func NewWithCompleter(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger, completer Completer) *Stage {
	return &Stage{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		completer: completer,
		logger:    logging.NewComponentLogger(logger, "structured"),
	}
}

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	item.ProgressStage = "Structuring"
	item.ProgressMessage = "Preparing structured extraction"
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
		return services.Wrap(services.ErrValidation, "structured", "validate envelope", err.Error(), nil)
	}

	documentID := env.DocumentID()
	textKey := env.String(envelope.KeyTextKey)

	data, err := s.blobs.Get(ctx, textKey)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "structured", "fetch text",
			"Extracted text is missing from blob storage", err)
	}
	text := truncate(string(data), s.cfg.Extraction.MaxDocumentChars)

	content, err := s.completer.CompleteJSON(ctx, systemPrompt, text)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "structured", "complete",
			"Structured extraction request failed", err)
	}

	payload := map[string]any{}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		return services.Wrap(services.ErrValidation, "structured", "decode response",
			"Extraction response is not valid JSON", err)
	}
	// Confidence is an optional side channel, not a contract field. Lift it
	// off before the closed-world schema check.
	confidence, hasConfidence := payload["confidence"]
	delete(payload, "confidence")

	spec := contract.Schema()
	if s.cfg.Extraction.Strict {
		if violations := schema.Validate(payload, spec); len(violations) > 0 {
			codes := make([]string, 0, len(violations))
			for _, v := range violations {
				codes = append(codes, fmt.Sprintf("%s(%s)", v.Code, v.Field))
			}
			logger.Warn("extraction response failed schema validation",
				logging.String(logging.FieldDocumentID, documentID),
				logging.Int("violations", len(violations)),
				logging.String("codes", strings.Join(codes, ",")),
			)
			return services.Wrap(services.ErrValidation, "structured", "validate response",
				fmt.Sprintf("Extraction response violates the field schema: %s", strings.Join(codes, ", ")), nil)
		}
	} else {
		payload = schema.Normalize(payload, spec)
	}

	extracted, err := contract.Decode(payload)
	if err != nil {
		return services.Wrap(services.ErrValidation, "structured", "decode fields",
			"Extraction response could not be mapped to contract fields", err)
	}
	encoded, err := extracted.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "structured", "encode fields",
			"Contract fields could not be serialized", err)
	}

	env.Set(envelope.KeyExtracted, true)
	env.Set("structured_data", encoded)
	if hasConfidence {
		env.Set("extraction_confidence", confidence)
	}
	if err := stage.StoreEnvelope(item, env); err != nil {
		return err
	}

	item.ProgressPercent = 100
	item.ProgressMessage = "Structured extraction complete"
	logger.Info("structured extraction complete",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Int("fields", len(encoded)),
	)
	return nil
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "structured"
	if s.cfg.Extraction.APIKey == "" {
		return stage.Unhealthy(name, "extraction API key not configured")
	}
	if err := s.completer.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("extraction endpoint unreachable: %v", err))
	}
	return stage.Healthy(name)
}
