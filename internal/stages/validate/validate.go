// Package validate implements the business-rule validation pipeline stage.
// The rule engine produces findings, not failures: an item whose data trips
// error-severity rules is still forwarded with validation_passed=false, and
// persistence records the outcome for review.
package validate

import (
	"context"
	"strings"

	"log/slog"

	"docflow/internal/config"
	"docflow/internal/contract"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/rules"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Stage evaluates business rules against extracted contract data.
type Stage struct {
	cfg    *config.Config
	store  *queue.Store
	engine *rules.Engine
	logger *slog.Logger
}

// New constructs the validation stage.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Stage {
	return NewWithEngine(cfg, store, logger, rules.NewEngine())
}

// NewWithEngine allows injecting the rule engine (tests pin the clock).
func NewWithEngine(cfg *config.Config, store *queue.Store, logger *slog.Logger, engine *rules.Engine) *Stage {
	return &Stage{
		cfg:    cfg,
		store:  store,
		engine: engine,
		logger: logging.NewComponentLogger(logger, "validate"),
	}
}

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	item.ProgressStage = "Validating"
	item.ProgressMessage = "Preparing rule validation"
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
		return services.Wrap(services.ErrValidation, "validate", "validate envelope", err.Error(), nil)
	}
	documentID := env.DocumentID()

	var extracted *contract.ExtractedData
	if raw, ok := env.Get("structured_data"); ok {
		payload, ok := raw.(map[string]any)
		if !ok {
			return services.Wrap(services.ErrValidation, "validate", "decode data",
				"Structured data has an unexpected shape", nil)
		}
		extracted, err = contract.Decode(payload)
		if err != nil {
			return services.Wrap(services.ErrValidation, "validate", "decode data",
				"Structured data could not be decoded", err)
		}
	}

	result := s.engine.Evaluate(extracted)

	env.Set("validation_passed", result.Passed)
	env.Set("validation_errors", findingMaps(result.Errors))
	env.Set("validation_warnings", findingMaps(result.Warnings))
	if err := stage.StoreEnvelope(item, env); err != nil {
		return err
	}

	logger.Info("rule validation complete",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Bool("passed", result.Passed),
		logging.Int("errors", len(result.Errors)),
		logging.Int("warnings", len(result.Warnings)),
		logging.String("codes", strings.Join(findingCodes(result), ",")),
	)
	item.ProgressPercent = 100
	item.ProgressMessage = "Rule validation complete"
	return nil
}

func findingMaps(findings []rules.Finding) []map[string]any {
	out := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		out = append(out, map[string]any{
			"code":     f.Code,
			"severity": string(f.Severity),
			"field":    f.Field,
			"message":  f.Message,
		})
	}
	return out
}

func findingCodes(result rules.Result) []string {
	codes := make([]string, 0, len(result.Errors)+len(result.Warnings))
	for _, f := range result.Errors {
		codes = append(codes, f.Code)
	}
	for _, f := range result.Warnings {
		codes = append(codes, f.Code)
	}
	return codes
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	// Rule evaluation is in-process with no external dependencies.
	return stage.Healthy("validate")
}
