// Package envelope implements the JSON message passed between pipeline stages.
// Stages add keys as they produce results, and the hand-off between stages is
// whitelisted: only the keys the next stage is contracted to receive are
// forwarded. The error history travels with the envelope regardless.
package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Keys produced and consumed by the pipeline stages.
const (
	KeyDocumentID          = "document_id"
	KeyTextKey             = "text_key"
	KeyEmbeddingsPrefix    = "embeddings_prefix"
	KeyChunksCreated       = "chunks_created"
	KeyEmbeddingsPersisted = "embeddings_persisted"
	KeyExtracted           = "extracted"
	KeyValidation          = "validation"
	KeyErrors              = "errors"
)

// StageError records one stage failure carried with the envelope.
type StageError struct {
	Stage     string `json:"stage"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Envelope is an ordered-agnostic bag of stage outputs plus an error history.
type Envelope struct {
	fields map[string]any
}

// New creates an envelope seeded with the document identifier.
func New(documentID string) *Envelope {
	return &Envelope{fields: map[string]any{KeyDocumentID: documentID}}
}

// Parse decodes an envelope from its JSON form. An empty input yields an
// empty envelope rather than an error, since freshly ingested items may not
// carry a payload yet.
func Parse(raw string) (*Envelope, error) {
	if raw == "" {
		return &Envelope{fields: map[string]any{}}, nil
	}
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &Envelope{fields: fields}, nil
}

// Encode serializes the envelope to JSON.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e.fields)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// Set stores a value under key.
func (e *Envelope) Set(key string, value any) {
	e.fields[key] = value
}

// Get returns the raw value for key.
func (e *Envelope) Get(key string) (any, bool) {
	value, ok := e.fields[key]
	return value, ok
}

// String returns the value for key as a string, or "" when absent or not a string.
func (e *Envelope) String(key string) string {
	if value, ok := e.fields[key].(string); ok {
		return value
	}
	return ""
}

// Int returns the value for key as an int. JSON numbers decode as float64, so
// both forms are accepted.
func (e *Envelope) Int(key string) (int, bool) {
	switch v := e.fields[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// DocumentID returns the document identifier carried by the envelope.
func (e *Envelope) DocumentID() string {
	return e.String(KeyDocumentID)
}

// Require verifies the listed keys are present, reporting all missing keys at
// once so a malformed hand-off surfaces in a single error.
func (e *Envelope) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if _, ok := e.fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("envelope missing required keys: %v", missing)
}

// Whitelist returns a copy carrying only the listed keys. The error history is
// always forwarded so downstream stages and operators see the full trail.
func (e *Envelope) Whitelist(keys ...string) *Envelope {
	out := &Envelope{fields: make(map[string]any, len(keys)+1)}
	for _, key := range keys {
		if value, ok := e.fields[key]; ok {
			out.fields[key] = value
		}
	}
	if errs, ok := e.fields[KeyErrors]; ok {
		out.fields[KeyErrors] = errs
	}
	return out
}

// Keys returns the sorted set of keys present, excluding none.
func (e *Envelope) Keys() []string {
	keys := make([]string, 0, len(e.fields))
	for key := range e.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AppendError records a stage failure on the envelope's error history.
func (e *Envelope) AppendError(stage, message string, at time.Time) {
	entry := map[string]any{
		"stage":     stage,
		"error":     message,
		"timestamp": at.UTC().Format(time.RFC3339),
	}
	existing, _ := e.fields[KeyErrors].([]any)
	e.fields[KeyErrors] = append(existing, entry)
}

// Errors returns the decoded error history.
func (e *Envelope) Errors() []StageError {
	raw, ok := e.fields[KeyErrors].([]any)
	if !ok {
		return nil
	}
	out := make([]StageError, 0, len(raw))
	for _, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		stageErr := StageError{}
		if v, ok := fields["stage"].(string); ok {
			stageErr.Stage = v
		}
		if v, ok := fields["error"].(string); ok {
			stageErr.Error = v
		}
		if v, ok := fields["timestamp"].(string); ok {
			stageErr.Timestamp = v
		}
		out = append(out, stageErr)
	}
	return out
}
