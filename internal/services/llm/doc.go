// Package llm is the chat-completions client used by the structured-extraction
// stage. It retries transient failures (408/429/5xx, timeouts, empty
// completions) on a fixed delay schedule and tolerates the usual model output
// quirks when decoding JSON payloads.
package llm
