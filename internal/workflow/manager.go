package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/queue"
	"docflow/internal/stage"
)

// pipelineStage binds a stage handler to the queue statuses it owns.
type pipelineStage struct {
	name       string
	ready      queue.Status
	processing queue.Status
	done       queue.Status
	handler    stage.Handler
}

// Stages carries the handlers for each pipeline stage, in pipeline order.
type Stages struct {
	TextExtract stage.Handler
	ChunkEmbed  stage.Handler
	Structured  stage.Handler
	Validate    stage.Handler
	Persist     stage.Handler
}

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service

	heartbeat *HeartbeatMonitor
	stages    []pipelineStage

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *queue.Item

	queueActive bool
	queueStart  time.Time
	processed   int
	failed      int
}

// NewManager constructs a workflow manager with a notifier built from
// configuration.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger.With(logging.String(logging.FieldComponent, "workflow-manager")),
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// ConfigureStages registers the pipeline handlers. Must be called before Start.
func (m *Manager) ConfigureStages(stages Stages) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = []pipelineStage{
		{name: "textextract", ready: queue.StatusPending, processing: queue.StatusExtracting, done: queue.StatusExtracted, handler: stages.TextExtract},
		{name: "chunkembed", ready: queue.StatusExtracted, processing: queue.StatusEmbedding, done: queue.StatusEmbedded, handler: stages.ChunkEmbed},
		{name: "structured", ready: queue.StatusEmbedded, processing: queue.StatusStructuring, done: queue.StatusStructured, handler: stages.Structured},
		{name: "validate", ready: queue.StatusStructured, processing: queue.StatusValidating, done: queue.StatusValidated, handler: stages.Validate},
		{name: "persist", ready: queue.StatusValidated, processing: queue.StatusSaving, done: queue.StatusCompleted, handler: stages.Persist},
	}
}

func (m *Manager) stageForStatus(status queue.Status) (pipelineStage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.stages {
		if st.ready == status {
			return st, true
		}
	}
	return pipelineStage{}, false
}

func (m *Manager) readyStatuses() []queue.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]queue.Status, 0, len(m.stages))
	for _, st := range m.stages {
		statuses = append(statuses, st.ready)
	}
	return statuses
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the most recent processing error.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastItem(item *queue.Item) {
	if item == nil {
		return
	}
	cp := *item
	m.mu.Lock()
	m.lastItem = &cp
	m.mu.Unlock()
}

// LastItem returns a copy of the most recently processed item.
func (m *Manager) LastItem() *queue.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastItem == nil {
		return nil
	}
	cp := *m.lastItem
	return &cp
}

// Running reports whether the background loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
