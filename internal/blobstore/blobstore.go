// Package blobstore abstracts the object storage that holds extracted text,
// per-chunk embeddings, and manifests. Keys are slash-separated paths; the
// filesystem implementation maps them under a root directory and the in-memory
// implementation backs tests.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes immutable blobs by key.
type Store interface {
	// Get returns the blob content for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes the blob content for key, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error
	// Exists reports whether the key is present without reading its content.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
