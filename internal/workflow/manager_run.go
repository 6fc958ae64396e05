package workflow

import (
	"context"
	"errors"
	"time"

	"docflow/internal/logging"
	"docflow/internal/queue"
)

// Start begins background processing. Items stuck in a processing status from
// a previous run are rolled back to their stage input first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	for _, st := range m.stages {
		if st.handler == nil {
			m.mu.Unlock()
			return errors.New("workflow stage " + st.name + " has no handler")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	if reset, err := m.store.ResetStuckProcessing(runCtx); err != nil {
		m.logger.Warn("failed to reset stuck items", logging.Error(err))
	} else if reset > 0 {
		m.logger.Info("reset stuck processing items", logging.Int64("count", reset))
	}

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStaleItems(ctx, m.logger); err != nil {
			m.logger.Warn("reclaim stale processing failed; stuck items may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		item, err := m.store.NextForStatuses(ctx, m.readyStatuses()...)
		if err != nil {
			m.handleNextItemError(ctx, err)
			continue
		}
		if item == nil {
			m.checkQueueCompletion(ctx)
			m.waitForItemOrShutdown(ctx)
			continue
		}

		if err := m.processItem(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) handleNextItemError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	m.logger.Error("failed to fetch next queue item",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// RunOnce drains the queue synchronously, processing ready items until none
// remain. Used by tests and one-shot processing commands.
func (m *Manager) RunOnce(ctx context.Context) error {
	m.mu.RLock()
	configured := len(m.stages) > 0
	m.mu.RUnlock()
	if !configured {
		return errors.New("workflow stages not configured")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := m.store.NextForStatuses(ctx, m.readyStatuses()...)
		if err != nil {
			return err
		}
		if item == nil {
			m.checkQueueCompletion(ctx)
			return nil
		}
		if err := m.processItem(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// checkQueueCompletion sends a queue-drained notification once all in-flight
// and ready work is gone.
func (m *Manager) checkQueueCompletion(ctx context.Context) {
	m.mu.Lock()
	active := m.queueActive
	start := m.queueStart
	processed := m.processed
	failed := m.failed
	m.mu.Unlock()
	if !active {
		return
	}

	statuses := append(m.readyStatuses(), queue.ProcessingStatuses()...)
	remaining, err := m.store.List(ctx, statuses...)
	if err != nil || len(remaining) > 0 {
		return
	}

	m.mu.Lock()
	m.queueActive = false
	m.processed = 0
	m.failed = 0
	m.mu.Unlock()

	if err := m.notifier.NotifyQueueCompleted(ctx, processed, failed, time.Since(start)); err != nil {
		m.logger.Warn("queue completion notification failed", logging.Error(err))
	}
}

func (m *Manager) markQueueActive(ctx context.Context) {
	m.mu.Lock()
	wasActive := m.queueActive
	if !wasActive {
		m.queueActive = true
		m.queueStart = time.Now()
	}
	m.mu.Unlock()
	if wasActive {
		return
	}

	count := 0
	if items, err := m.store.List(ctx, m.readyStatuses()...); err == nil {
		count = len(items)
	}
	if err := m.notifier.NotifyQueueStarted(ctx, count+1); err != nil {
		m.logger.Warn("queue start notification failed", logging.Error(err))
	}
}
