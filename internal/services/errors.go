package services

import (
	"errors"
	"fmt"
	"strings"

	"docflow/internal/queue"
)

var (
	// ErrConfiguration marks missing or invalid settings. Fatal at startup,
	// never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks failures that may succeed on redelivery.
	ErrTransient = errors.New("transient failure")
	// ErrExternalService marks failures of an external inference or storage call.
	ErrExternalService = errors.New("external service error")
	// ErrValidation marks schema or payload violations. Retrying the same
	// payload wastes calls, so these route to review instead of redelivery.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks missing stored content.
	ErrNotFound = errors.New("not found")
	// ErrThreshold marks an admission-gate failure (success ratio below the
	// configured minimum). The manifest is withheld so redelivery reprocesses.
	ErrThreshold = errors.New("completion threshold not met")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a stage error to the queue status the workflow manager
// should persist after the stage fails. Validation and configuration problems
// need a human, so they park in review; everything else stays failed and is
// eligible for retry.
func FailureStatus(err error) queue.Status {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return queue.StatusReview
	default:
		return queue.StatusFailed
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
