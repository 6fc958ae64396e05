package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// fakeHandler advances items through its stage, optionally failing.
type fakeHandler struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fakeHandler) Prepare(_ context.Context, item *queue.Item) error {
	item.ErrorMessage = ""
	item.ProgressPercent = 0
	return nil
}

func (f *fakeHandler) Execute(_ context.Context, item *queue.Item) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	item.ProgressPercent = 100
	return nil
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingNotifier counts notification deliveries per category.
type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	reviews   []string
	errors    []string
	started   int
	drained   int
}

func (r *recordingNotifier) NotifyIngested(context.Context, string, string) error { return nil }

func (r *recordingNotifier) NotifyProcessingCompleted(_ context.Context, documentID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, documentID)
	return nil
}

func (r *recordingNotifier) NotifyReviewRequired(_ context.Context, documentID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews = append(r.reviews, documentID)
	return nil
}

func (r *recordingNotifier) NotifyError(_ context.Context, err error, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err.Error())
	return nil
}

func (r *recordingNotifier) NotifyQueueStarted(context.Context, int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return nil
}

func (r *recordingNotifier) NotifyQueueCompleted(context.Context, int, int, time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drained++
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 120
	return &cfg
}

func newTestStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func healthyStages() (Stages, map[string]*fakeHandler) {
	handlers := map[string]*fakeHandler{
		"textextract": {name: "textextract"},
		"chunkembed":  {name: "chunkembed"},
		"structured":  {name: "structured"},
		"validate":    {name: "validate"},
		"persist":     {name: "persist"},
	}
	return Stages{
		TextExtract: handlers["textextract"],
		ChunkEmbed:  handlers["chunkembed"],
		Structured:  handlers["structured"],
		Validate:    handlers["validate"],
		Persist:     handlers["persist"],
	}, handlers
}

func seedItem(t *testing.T, store *queue.Store, docID string) *queue.Item {
	t.Helper()
	env := envelope.New(docID)
	env.Set("source_key", "uploads/"+docID+"/contract.txt")
	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	item, err := store.NewDocument(context.Background(), docID, "uploads/"+docID+"/contract.txt", encoded)
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func TestRunOnceDrivesItemThroughAllStages(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), notifier)
	stages, handlers := healthyStages()
	manager.ConfigureStages(stages)

	seedItem(t, store, "doc-001")
	ctx := context.Background()
	if err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	item, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if item.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", item.Status)
	}
	for name, handler := range handlers {
		if handler.callCount() != 1 {
			t.Fatalf("stage %s expected one call, got %d", name, handler.callCount())
		}
	}
	if len(notifier.completed) != 1 || notifier.completed[0] != "doc-001" {
		t.Fatalf("expected completion notification, got %v", notifier.completed)
	}
	if notifier.drained != 1 {
		t.Fatalf("expected queue drained notification, got %d", notifier.drained)
	}
}

func TestValidationFailureRoutesToReview(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), notifier)
	stages, _ := healthyStages()
	stages.Structured = &fakeHandler{
		name: "structured",
		err:  services.Wrap(services.ErrValidation, "structured", "validate response", "schema violations", nil),
	}
	manager.ConfigureStages(stages)

	seedItem(t, store, "doc-001")
	ctx := context.Background()
	if err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	item, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if item.Status != queue.StatusReview {
		t.Fatalf("validation failure must park in review, got %s", item.Status)
	}
	if !item.NeedsReview {
		t.Fatal("needs_review flag not set")
	}
	if len(notifier.reviews) != 1 {
		t.Fatalf("expected review notification, got %v", notifier.reviews)
	}

	env, err := envelope.Parse(item.EnvelopeJSON)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	history := env.Errors()
	if len(history) != 1 || history[0].Stage != "structured" {
		t.Fatalf("failure not recorded on envelope: %+v", history)
	}
}

func TestTransientFailureRoutesToFailed(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), notifier)
	stages, _ := healthyStages()
	stages.ChunkEmbed = &fakeHandler{
		name: "chunkembed",
		err:  services.Wrap(services.ErrThreshold, "chunkembed", "admission gate", "ratio below minimum", nil),
	}
	manager.ConfigureStages(stages)

	seedItem(t, store, "doc-001")
	ctx := context.Background()
	if err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	item, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if item.Status != queue.StatusFailed {
		t.Fatalf("threshold failure must fail, got %s", item.Status)
	}
	if len(notifier.errors) != 1 {
		t.Fatalf("expected error notification, got %v", notifier.errors)
	}
}

func TestStartRequiresConfiguredStages(t *testing.T) {
	store := newTestStore(t)
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), &recordingNotifier{})
	if err := manager.Start(context.Background()); err == nil {
		manager.Stop()
		t.Fatal("expected error for unconfigured stages")
	}
}

func TestStartAndStopBackgroundLoop(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), notifier)
	stages, _ := healthyStages()
	manager.ConfigureStages(stages)

	seedItem(t, store, "doc-001")
	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := manager.Start(ctx); err == nil {
		t.Fatal("second start must fail while running")
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByDocumentID(ctx, "doc-001")
		if err != nil {
			t.Fatalf("fetch item: %v", err)
		}
		if item.Status == queue.StatusCompleted {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	manager.Stop()

	item, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if item.Status != queue.StatusCompleted {
		t.Fatalf("background loop did not finish item, status %s", item.Status)
	}
}

func TestStartResetsStuckProcessingItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := seedItem(t, store, "doc-001")
	item.Status = queue.StatusStructuring
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}

	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), &recordingNotifier{})
	stages, _ := healthyStages()
	manager.ConfigureStages(stages)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	manager.Stop()

	// The stuck item was rolled back to the input of its interrupted stage.
	refreshed, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if refreshed.Status == queue.StatusStructuring {
		t.Fatalf("stuck item not rolled back, status %s", refreshed.Status)
	}
}

func TestHealthReportsAllStages(t *testing.T) {
	store := newTestStore(t)
	manager := NewManagerWithNotifier(testConfig(t), store, logging.NewNop(), &recordingNotifier{})
	stages, _ := healthyStages()
	manager.ConfigureStages(stages)

	results := manager.Health(context.Background())
	if len(results) != 5 {
		t.Fatalf("expected 5 stage health records, got %d", len(results))
	}
	for _, h := range results {
		if !h.Ready {
			t.Fatalf("stage %s unexpectedly unhealthy: %s", h.Name, h.Detail)
		}
	}
}
