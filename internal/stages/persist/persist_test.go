package persist

import (
	"context"
	"path/filepath"
	"testing"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/logging"
	"docflow/internal/manifest"
	"docflow/internal/metastore"
	"docflow/internal/queue"
)

func newTestStage(t *testing.T, blobs blobstore.Store) (*Stage, *metastore.Store) {
	t.Helper()
	meta, err := metastore.OpenPath(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })
	cfg := config.Default()
	return New(&cfg, nil, blobs, meta, logging.NewNop()), meta
}

func seedPipelineOutput(t *testing.T, blobs blobstore.Store, docID string) *queue.Item {
	t.Helper()
	ctx := context.Background()
	prefix := "embeddings/" + docID + "/"

	if err := blobs.Put(ctx, "text/"+docID+".txt", []byte("contract text")); err != nil {
		t.Fatalf("seed text: %v", err)
	}
	for _, key := range []string{prefix + "00000.json", prefix + "00001.json"} {
		if err := blobs.Put(ctx, key, []byte(`{"embedding":[0.1]}`)); err != nil {
			t.Fatalf("seed artifact: %v", err)
		}
	}
	err := manifest.Write(ctx, blobs, manifest.Key(prefix), &manifest.Manifest{
		DocumentID:       docID,
		EmbeddingsPrefix: prefix,
		Chunks:           2,
		Embedded:         2,
		ContentSHA256:    "sha-" + docID,
		SuccessRatio:     1,
	})
	if err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	env := envelope.New(docID)
	env.Set(envelope.KeyTextKey, "text/"+docID+".txt")
	env.Set(envelope.KeyEmbeddingsPrefix, prefix)
	env.Set(envelope.KeyChunksCreated, 2)
	env.Set(envelope.KeyEmbeddingsPersisted, 2)
	env.Set("structured_data", map[string]any{
		"client_name":    "Acme Corp",
		"contract_value": 120000.0,
	})
	env.Set("validation_passed", true)
	env.Set("validation_warnings", []map[string]any{
		{"code": "VAL_VALUE_HIGH", "severity": "warning"},
	})
	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return &queue.Item{DocumentID: docID, EnvelopeJSON: encoded}
}

func TestExecutePersistsVersionAndChunkRefs(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	item := seedPipelineOutput(t, blobs, "doc-001")
	s, meta := newTestStage(t, blobs)
	ctx := context.Background()

	if err := s.Execute(ctx, item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	latest, err := meta.Latest(ctx, "doc-001")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Version != 1 {
		t.Fatalf("expected latest v1, got %+v", latest)
	}
	if latest.ClientName != "Acme Corp" {
		t.Fatalf("client name not recorded: %q", latest.ClientName)
	}
	if latest.ContentSHA256 != "sha-doc-001" {
		t.Fatalf("manifest content hash not used: %q", latest.ContentSHA256)
	}
	if !latest.ValidationPassed {
		t.Fatal("validation outcome not recorded")
	}

	refs, err := meta.ChunkRefs(ctx, "doc-001")
	if err != nil {
		t.Fatalf("chunk refs: %v", err)
	}
	if len(refs) != 2 || refs[0].Index != 0 || refs[1].Index != 1 {
		t.Fatalf("unexpected chunk refs %+v", refs)
	}

	out, err := envelope.Parse(item.EnvelopeJSON)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if version, _ := out.Int("persisted_version"); version != 1 {
		t.Fatalf("persisted_version not set, got %d", version)
	}
}

func TestExecuteRedeliveryReusesVersion(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	s, meta := newTestStage(t, blobs)
	ctx := context.Background()

	first := seedPipelineOutput(t, blobs, "doc-001")
	if err := s.Execute(ctx, first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Redelivery of the same content must not mint a second version.
	second := seedPipelineOutput(t, blobs, "doc-001")
	if err := s.Execute(ctx, second); err != nil {
		t.Fatalf("replay run: %v", err)
	}

	versions, err := meta.Versions(ctx, "doc-001")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("replay created extra versions: %d", len(versions))
	}
}

func TestExecuteNewContentMintsNewVersion(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	s, meta := newTestStage(t, blobs)
	ctx := context.Background()

	first := seedPipelineOutput(t, blobs, "doc-001")
	if err := s.Execute(ctx, first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same document re-ingested with different content.
	prefix := "embeddings/doc-001/"
	second := seedPipelineOutput(t, blobs, "doc-001")
	err := manifest.Write(ctx, blobs, manifest.Key(prefix), &manifest.Manifest{
		DocumentID:       "doc-001",
		EmbeddingsPrefix: prefix,
		Chunks:           2,
		Embedded:         2,
		ContentSHA256:    "sha-changed",
		SuccessRatio:     1,
	})
	if err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	if err := s.Execute(ctx, second); err != nil {
		t.Fatalf("second run: %v", err)
	}

	versions, err := meta.Versions(ctx, "doc-001")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected two versions for changed content, got %d", len(versions))
	}
	latest, err := meta.Latest(ctx, "doc-001")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Version != 2 {
		t.Fatalf("latest pointer should advance to v2, got %+v", latest)
	}
}

func TestExecuteWithoutEmbeddingsFallsBackToTextHash(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	ctx := context.Background()
	if err := blobs.Put(ctx, "text/doc-002.txt", []byte("bare text")); err != nil {
		t.Fatalf("seed text: %v", err)
	}
	env := envelope.New("doc-002")
	env.Set(envelope.KeyTextKey, "text/doc-002.txt")
	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	item := &queue.Item{DocumentID: "doc-002", EnvelopeJSON: encoded}

	s, meta := newTestStage(t, blobs)
	if err := s.Execute(ctx, item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	latest, err := meta.Latest(ctx, "doc-002")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ContentSHA256 == "" {
		t.Fatalf("expected text-derived content hash, got %+v", latest)
	}
}
