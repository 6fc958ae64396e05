package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

func (m *Manager) processItem(ctx context.Context, item *queue.Item) error {
	st, ok := m.stageForStatus(item.Status)
	if !ok {
		m.logger.Warn("no stage configured for status", logging.String("status", string(item.Status)))
		m.waitForItemOrShutdown(ctx)
		return nil
	}

	stageCtx := services.WithItemID(ctx, item.ID)
	stageCtx = services.WithDocumentID(stageCtx, item.DocumentID)
	stageCtx = services.WithStage(stageCtx, st.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	stageLogger := logging.WithContext(stageCtx, m.logger)

	if err := m.transitionToProcessing(stageCtx, st, item); err != nil {
		stageLogger.Error("failed to transition item to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}

	return m.executeStage(stageCtx, stageLogger, st, item)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, st pipelineStage, item *queue.Item) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(st.processing)),
	)

	if err := st.handler.Prepare(ctx, item); err != nil {
		m.handleStageFailure(ctx, st, item, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.Update(ctx, item); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(ctx, st, item)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, st, item, execErr)
		m.setLastError(execErr)
		return execErr
	}

	if item.Status == st.processing || item.Status == "" {
		item.Status = st.done
	}
	item.LastHeartbeat = nil
	if item.Status == queue.StatusCompleted && item.ProgressPercent < 100 {
		item.ProgressPercent = 100
	}
	if err := m.store.Update(ctx, item); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(item.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)

	m.setLastItem(item)
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()

	if item.Status == queue.StatusCompleted {
		m.notifyCompleted(ctx, item)
	}
	m.checkQueueCompletion(ctx)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, st pipelineStage, item *queue.Item) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, item.ID)

	execErr := st.handler.Execute(ctx, item)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) transitionToProcessing(ctx context.Context, st pipelineStage, item *queue.Item) error {
	now := time.Now().UTC()
	item.Status = st.processing
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	item.LastHeartbeat = &now
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastItem(item)
	m.markQueueActive(ctx)
	return nil
}

func (m *Manager) notifyCompleted(ctx context.Context, item *queue.Item) {
	clientName := ""
	if env, err := envelope.Parse(item.EnvelopeJSON); err == nil {
		if raw, ok := env.Get("structured_data"); ok {
			if data, ok := raw.(map[string]any); ok {
				clientName, _ = data["client_name"].(string)
			}
		}
	}
	if err := m.notifier.NotifyProcessingCompleted(ctx, item.DocumentID, clientName); err != nil {
		m.logger.Warn("completion notification failed", logging.Error(err))
	}
}
