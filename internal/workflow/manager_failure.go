package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// handleStageFailure records the failure on the item's envelope, resolves the
// terminal status (review for validation and configuration problems, failed
// otherwise), persists the item, and notifies operators.
func (m *Manager) handleStageFailure(ctx context.Context, st pipelineStage, item *queue.Item, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)

	message := classifyStageFailure(st.name, stageErr)
	m.appendEnvelopeError(item, st.name, message)

	resolved := services.FailureStatus(stageErr)
	switch resolved {
	case queue.StatusReview:
		item.SetReview(message)
	default:
		item.SetFailed(message)
	}

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("resolved_status", string(resolved)),
		logging.String("error_message", message),
		logging.Error(stageErr),
	)

	if err := m.store.Update(ctx, item); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastItem(item)
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()

	switch resolved {
	case queue.StatusReview:
		if err := m.notifier.NotifyReviewRequired(ctx, item.DocumentID, message); err != nil {
			logger.Warn("review notification failed", logging.Error(err))
		}
	default:
		if err := m.notifier.NotifyError(ctx, stageErr, st.name); err != nil {
			logger.Warn("error notification failed", logging.Error(err))
		}
	}
	m.checkQueueCompletion(ctx)
}

// appendEnvelopeError carries the failure on the envelope's error history so
// it survives whitelisted hand-offs and retries.
func (m *Manager) appendEnvelopeError(item *queue.Item, stageName, message string) {
	env, err := envelope.Parse(item.EnvelopeJSON)
	if err != nil {
		return
	}
	env.AppendError(stageName, message, time.Now().UTC())
	if encoded, err := env.Encode(); err == nil {
		item.EnvelopeJSON = encoded
	}
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageName + " failed without error detail"
	}
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		return stageName + " failed"
	}
	return message
}
