// Package manifest implements the completion manifest that gates the
// chunk-embed stage. A manifest exists only after every per-chunk artifact and
// the admission gate have both succeeded, so its mere completeness is proof
// the expensive work can be skipped on redelivery. A manifest that fails the
// completeness invariant is partial and never causes a skip.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docflow/internal/blobstore"
)

// State is the tri-state a stored manifest can be in.
type State int

const (
	// StateAbsent means no manifest object exists.
	StateAbsent State = iota
	// StatePartial means a manifest object exists but fails the completeness
	// invariant. Treated exactly like absent for skip decisions.
	StatePartial
	// StateComplete means the manifest proves all chunk work finished.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manifest records the outcome of one successful chunk-embed run.
type Manifest struct {
	DocumentID       string  `json:"document_id"`
	EmbeddingsPrefix string  `json:"embeddings_prefix"`
	Model            string  `json:"model"`
	Chunks           int     `json:"chunks"`
	Embedded         int     `json:"embedded"`
	SourceETag       string  `json:"source_etag,omitempty"`
	ContentSHA256    string  `json:"content_sha256"`
	SuccessRatio     float64 `json:"success_ratio"`
	CreatedAt        string  `json:"created_at"`
}

// Complete reports whether the manifest satisfies the completeness invariant:
// every chunk embedded and at least one chunk produced.
func (m *Manifest) Complete() bool {
	return m != nil && m.Chunks > 0 && m.Embedded >= m.Chunks
}

// Key returns the manifest location for a document's embeddings prefix.
func Key(embeddingsPrefix string) string {
	return embeddingsPrefix + "manifest.json"
}

// Load reads the manifest at key and classifies it. A missing object is
// StateAbsent; a present but incomplete or undecodable object is StatePartial.
// Decode failures are reported as partial rather than errors because a corrupt
// manifest must drive a re-run, not block the stage.
func Load(ctx context.Context, store blobstore.Store, key string) (*Manifest, State, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, StateAbsent, nil
	}
	if err != nil {
		return nil, StateAbsent, fmt.Errorf("load manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, StatePartial, nil
	}
	if !m.Complete() {
		return &m, StatePartial, nil
	}
	return &m, StateComplete, nil
}

// Write persists the manifest at key. Callers must only invoke this after all
// per-chunk work and the admission gate have completed; there is no partial
// write path on purpose.
func Write(ctx context.Context, store blobstore.Store, key string, m *Manifest) error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
