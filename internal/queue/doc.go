// Package queue persists the document pipeline's work items in SQLite and
// doubles as the transport between stages. A processing status is a lease: the
// workflow manager heartbeats it while a stage runs, and expired leases are
// rolled back to the stage's input status so the item is redelivered. Stages
// are written to tolerate this at-least-once delivery.
package queue
