// Package logging builds the slog loggers used across the pipeline and
// standardizes the structured field names stages attach to records.
//
// Handlers: a JSON handler for machine ingestion and a compact console
// handler for interactive use. WithContext derives item/document/stage
// attributes from the request context so stage code never threads them
// manually.
//
// Log hygiene contract: stages log envelope keys, counts, ids, and codes —
// never the values of extracted document fields.
package logging
