package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/metastore"
	"docflow/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenMetastore opens a metastore.Store for tests and registers cleanup.
func MustOpenMetastore(t testing.TB, cfg *config.Config) *metastore.Store {
	t.Helper()

	store, err := metastore.Open(cfg)
	if err != nil {
		t.Fatalf("metastore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument queues a document item for tests using the provided store.
func NewDocument(t testing.TB, store *queue.Store, documentID, sourceKey string) *queue.Item {
	t.Helper()

	env := envelope.New(documentID)
	env.Set("source_key", sourceKey)
	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	item, err := store.NewDocument(context.Background(), documentID, sourceKey, encoded)
	if err != nil {
		t.Fatalf("store.NewDocument: %v", err)
	}
	return item
}
