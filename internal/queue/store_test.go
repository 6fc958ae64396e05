package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewDocumentAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, err := store.NewDocument(ctx, "doc-001", "incoming/doc-001.txt", `{"document_id":"doc-001"}`)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected nonzero item id")
	}
	if item.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", item.Status)
	}
	if item.SourceKey != "incoming/doc-001.txt" {
		t.Fatalf("unexpected source key %q", item.SourceKey)
	}

	byDoc, err := store.GetByDocumentID(ctx, "doc-001")
	if err != nil {
		t.Fatalf("get by document id: %v", err)
	}
	if byDoc == nil || byDoc.ID != item.ID {
		t.Fatal("expected lookup by document id to return the inserted item")
	}

	missing, err := store.GetByDocumentID(ctx, "doc-missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown document id")
	}
}

func TestNewDocumentRejectsDuplicateDocumentID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.NewDocument(ctx, "doc-dup", "", ""); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := store.NewDocument(ctx, "doc-dup", "", ""); err == nil {
		t.Fatal("expected unique constraint error on duplicate document id")
	}
}

func TestUpdatePersistsAllFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, err := store.NewDocument(ctx, "doc-upd", "", "")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	hb := time.Now().UTC().Truncate(time.Millisecond)
	item.Status = StatusEmbedding
	item.EnvelopeJSON = `{"document_id":"doc-upd","chunks_created":3}`
	item.SetProgress("Embedding", "embedding chunks", 40)
	item.LastHeartbeat = &hb

	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusEmbedding {
		t.Fatalf("expected embedding status, got %s", got.Status)
	}
	if got.EnvelopeJSON != item.EnvelopeJSON {
		t.Fatalf("envelope not persisted: %q", got.EnvelopeJSON)
	}
	if got.ProgressStage != "Embedding" || got.ProgressPercent != 40 {
		t.Fatalf("progress not persisted: %q %.0f", got.ProgressStage, got.ProgressPercent)
	}
	if got.LastHeartbeat == nil || !got.LastHeartbeat.Equal(hb) {
		t.Fatalf("heartbeat not persisted: %v", got.LastHeartbeat)
	}
}

func TestNextForStatusesReturnsOldest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NewDocument(ctx, "doc-a", "", "")
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	// Ensure distinct created_at ordering.
	time.Sleep(5 * time.Millisecond)
	if _, err := store.NewDocument(ctx, "doc-b", "", ""); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	next, err := store.NextForStatuses(ctx, StatusPending)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatal("expected oldest pending item first")
	}

	none, err := store.NextForStatuses(ctx, StatusValidated)
	if err != nil {
		t.Fatalf("next empty: %v", err)
	}
	if none != nil {
		t.Fatal("expected nil when no items match")
	}
}

func TestReclaimStaleProcessingRollsBackToStageInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale, err := store.NewDocument(ctx, "doc-stale", "", "")
	if err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	old := time.Now().UTC().Add(-10 * time.Minute)
	stale.Status = StatusStructuring
	stale.LastHeartbeat = &old
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("update stale: %v", err)
	}

	fresh, err := store.NewDocument(ctx, "doc-fresh", "", "")
	if err != nil {
		t.Fatalf("insert fresh: %v", err)
	}
	now := time.Now().UTC()
	fresh.Status = StatusEmbedding
	fresh.LastHeartbeat = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("update fresh: %v", err)
	}

	reclaimed, err := store.ReclaimStaleProcessing(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed item, got %d", reclaimed)
	}

	got, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != StatusEmbedded {
		t.Fatalf("expected structuring to roll back to embedded, got %s", got.Status)
	}
	if got.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared after reclaim")
	}

	untouched, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if untouched.Status != StatusEmbedding {
		t.Fatalf("fresh item should be untouched, got %s", untouched.Status)
	}
}

func TestResetStuckProcessingRollsBackEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := map[string]struct {
		from Status
		want Status
	}{
		"doc-x": {StatusExtracting, StatusPending},
		"doc-e": {StatusEmbedding, StatusExtracted},
		"doc-s": {StatusSaving, StatusValidated},
	}
	for docID, tc := range cases {
		item, err := store.NewDocument(ctx, docID, "", "")
		if err != nil {
			t.Fatalf("insert %s: %v", docID, err)
		}
		item.Status = tc.from
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("update %s: %v", docID, err)
		}
	}

	reset, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != int64(len(cases)) {
		t.Fatalf("expected %d reset items, got %d", len(cases), reset)
	}

	for docID, tc := range cases {
		item, err := store.GetByDocumentID(ctx, docID)
		if err != nil {
			t.Fatalf("get %s: %v", docID, err)
		}
		if item.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", docID, tc.want, item.Status)
		}
	}
}

func TestRetryFailedReturnsItemsToPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	failed, err := store.NewDocument(ctx, "doc-failed", "", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	failed.SetFailed("embedding service unavailable")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("update: %v", err)
	}

	review, err := store.NewDocument(ctx, "doc-review", "", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	review.SetReview("schema validation failed")
	if err := store.Update(ctx, review); err != nil {
		t.Fatalf("update: %v", err)
	}

	retried, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried != 2 {
		t.Fatalf("expected 2 retried items, got %d", retried)
	}

	got, err := store.GetByID(ctx, failed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.ErrorMessage != "" {
		t.Fatalf("expected clean pending item, got %s %q", got.Status, got.ErrorMessage)
	}
	gotReview, err := store.GetByID(ctx, review.ID)
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if gotReview.NeedsReview || gotReview.ReviewReason != "" {
		t.Fatal("expected review flags cleared after retry")
	}
}

func TestStatsAndHealth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		docID  string
		status Status
	}{
		{"doc-1", StatusPending},
		{"doc-2", StatusPending},
		{"doc-3", StatusEmbedding},
		{"doc-4", StatusCompleted},
		{"doc-5", StatusFailed},
		{"doc-6", StatusReview},
	}
	for _, s := range seed {
		item, err := store.NewDocument(ctx, s.docID, "", "")
		if err != nil {
			t.Fatalf("insert %s: %v", s.docID, err)
		}
		if s.status != StatusPending {
			item.Status = s.status
			if err := store.Update(ctx, item); err != nil {
				t.Fatalf("update %s: %v", s.docID, err)
			}
		}
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 6 || health.Pending != 2 || health.Processing != 1 ||
		health.Completed != 1 || health.Failed != 1 || health.Review != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestClearVariants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, s := range []struct {
		docID  string
		status Status
	}{
		{"doc-c", StatusCompleted},
		{"doc-f", StatusFailed},
		{"doc-p", StatusPending},
	} {
		item, err := store.NewDocument(ctx, s.docID, "", "")
		if err != nil {
			t.Fatalf("insert %s: %v", s.docID, err)
		}
		item.Status = s.status
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("update %s: %v", s.docID, err)
		}
	}

	completed, err := store.ClearCompleted(ctx)
	if err != nil || completed != 1 {
		t.Fatalf("clear completed: %d, %v", completed, err)
	}
	failed, err := store.ClearFailed(ctx)
	if err != nil || failed != 1 {
		t.Fatalf("clear failed: %d, %v", failed, err)
	}
	all, err := store.Clear(ctx)
	if err != nil || all != 1 {
		t.Fatalf("clear all: %d, %v", all, err)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("  Embedding "); !ok || status != StatusEmbedding {
		t.Fatalf("expected embedding, got %s %v", status, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Fatal("expected bogus status to be rejected")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}
