package manifest

import (
	"context"
	"testing"

	"docflow/internal/blobstore"
)

func TestLoadAbsentWhenNoObjectExists(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m, state, err := Load(context.Background(), store, "embeddings/doc-001/manifest.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != StateAbsent || m != nil {
		t.Fatalf("expected absent, got %s %+v", state, m)
	}
}

func TestWriteThenLoadComplete(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()
	key := Key("embeddings/doc-001/")

	written := &Manifest{
		DocumentID:       "doc-001",
		EmbeddingsPrefix: "embeddings/doc-001/",
		Model:            "text-embedding-3-small",
		Chunks:           12,
		Embedded:         12,
		ContentSHA256:    "abc123",
		SuccessRatio:     1.0,
	}
	if err := Write(ctx, store, key, written); err != nil {
		t.Fatalf("write: %v", err)
	}
	if written.CreatedAt == "" {
		t.Fatal("write must stamp created_at")
	}

	m, state, err := Load(ctx, store, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("expected complete, got %s", state)
	}
	if m.Chunks != 12 || m.Embedded != 12 || m.DocumentID != "doc-001" {
		t.Fatalf("manifest fields lost: %+v", m)
	}
}

func TestLoadPartialWhenInvariantFails(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()
	key := Key("embeddings/doc-001/")

	cases := map[string]*Manifest{
		"embedded below chunks": {DocumentID: "doc-001", Chunks: 10, Embedded: 9},
		"zero chunks":           {DocumentID: "doc-001", Chunks: 0, Embedded: 0},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Write(ctx, store, key, m); err != nil {
				t.Fatalf("write: %v", err)
			}
			loaded, state, err := Load(ctx, store, key)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if state != StatePartial {
				t.Fatalf("expected partial, got %s", state)
			}
			if loaded == nil {
				t.Fatal("partial manifest content should still be returned")
			}
		})
	}
}

func TestLoadCorruptManifestIsPartial(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()
	key := Key("embeddings/doc-001/")
	if err := store.Put(ctx, key, []byte("{truncated")); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, state, err := Load(ctx, store, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != StatePartial {
		t.Fatalf("corrupt manifest must classify partial, got %s", state)
	}
}

func TestCompleteInvariant(t *testing.T) {
	cases := []struct {
		name     string
		chunks   int
		embedded int
		want     bool
	}{
		{"all embedded", 5, 5, true},
		{"over-embedded", 5, 6, true},
		{"under-embedded", 5, 4, false},
		{"empty", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &Manifest{Chunks: tc.chunks, Embedded: tc.embedded}
			if got := m.Complete(); got != tc.want {
				t.Fatalf("chunks=%d embedded=%d: expected %v", tc.chunks, tc.embedded, tc.want)
			}
		})
	}
	var nilManifest *Manifest
	if nilManifest.Complete() {
		t.Fatal("nil manifest must not be complete")
	}
}
