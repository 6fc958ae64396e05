package textextract

import (
	"context"
	"errors"
	"testing"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

func newTestStage(t *testing.T, blobs blobstore.Store) *Stage {
	t.Helper()
	cfg := config.Default()
	return New(&cfg, nil, blobs, logging.NewNop())
}

func newItem(t *testing.T, env *envelope.Envelope) *queue.Item {
	t.Helper()
	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return &queue.Item{DocumentID: env.DocumentID(), EnvelopeJSON: encoded}
}

func TestExecuteExtractsTextAndUpdatesEnvelope(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	ctx := context.Background()
	if err := blobs.Put(ctx, "uploads/doc-001/contract.txt", []byte("Page one\fPage two")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	env := envelope.New("doc-001")
	env.Set("source_key", "uploads/doc-001/contract.txt")
	item := newItem(t, env)

	s := newTestStage(t, blobs)
	if err := s.Execute(ctx, item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	out, err := envelope.Parse(item.EnvelopeJSON)
	if err != nil {
		t.Fatalf("parse output envelope: %v", err)
	}
	if out.String(envelope.KeyTextKey) != "text/doc-001.txt" {
		t.Fatalf("unexpected text key %q", out.String(envelope.KeyTextKey))
	}
	if pages, _ := out.Int("page_count"); pages != 2 {
		t.Fatalf("expected 2 pages, got %d", pages)
	}
	if length, _ := out.Int("text_length"); length == 0 {
		t.Fatal("text_length not recorded")
	}

	stored, err := blobs.Get(ctx, "text/doc-001.txt")
	if err != nil {
		t.Fatalf("stored text missing: %v", err)
	}
	if string(stored) != "Page one\nPage two" {
		t.Fatalf("unexpected stored text %q", stored)
	}
}

func TestExecuteMissingSourceKey(t *testing.T) {
	item := newItem(t, envelope.New("doc-001"))
	s := newTestStage(t, blobstore.NewMemoryStore())

	err := s.Execute(context.Background(), item)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteMissingBlob(t *testing.T) {
	env := envelope.New("doc-001")
	env.Set("source_key", "uploads/doc-001/missing.txt")
	item := newItem(t, env)
	s := newTestStage(t, blobstore.NewMemoryStore())

	err := s.Execute(context.Background(), item)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestExecuteEmptyDocument(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	ctx := context.Background()
	if err := blobs.Put(ctx, "uploads/doc-001/blank.txt", []byte("   \n\t")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	env := envelope.New("doc-001")
	env.Set("source_key", "uploads/doc-001/blank.txt")
	item := newItem(t, env)
	s := newTestStage(t, blobs)

	err := s.Execute(ctx, item)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
}

func TestPlainTextSinglePage(t *testing.T) {
	text, pages, err := PlainText{}.Extract(context.Background(), []byte("no breaks here"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if pages != 1 || text != "no breaks here" {
		t.Fatalf("unexpected result %q pages=%d", text, pages)
	}
}

func TestPrepareResetsProgress(t *testing.T) {
	item := &queue.Item{ErrorMessage: "previous failure", ProgressPercent: 80}
	s := newTestStage(t, blobstore.NewMemoryStore())
	if err := s.Prepare(context.Background(), item); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if item.ErrorMessage != "" || item.ProgressPercent != 0 {
		t.Fatalf("prepare did not reset item state: %+v", item)
	}
}
