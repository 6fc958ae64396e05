// Package chunker splits extracted document text into overlapping windows for
// embedding. Overlap keeps sentences that straddle a boundary visible to both
// neighbouring chunks.
package chunker

import (
	"fmt"
	"strings"
)

// Chunk is one window of document text.
type Chunk struct {
	Index int
	Text  string
}

// Options control the sliding window.
type Options struct {
	// Size is the window length in characters.
	Size int
	// Overlap is how many characters consecutive windows share. Must be
	// smaller than Size or the window would never advance.
	Overlap int
}

// Validate rejects option combinations that cannot make progress.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("chunk overlap must not be negative, got %d", o.Overlap)
	}
	if o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", o.Overlap, o.Size)
	}
	return nil
}

// Split cuts text into overlapping chunks. Each window starts Overlap
// characters before the previous one ended, and whitespace-only windows are
// dropped. Returned indexes are sequential over the emitted chunks.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	var chunks []Chunk
	for start := 0; start < len(runes); {
		end := start + opts.Size
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: window})
		}
		if end == len(runes) {
			break
		}
		start = end - opts.Overlap
	}
	return chunks, nil
}
