// Package workflow coordinates the document pipeline. A manager polls the
// queue for items whose status marks a stage's input as ready, runs the stage
// handler, and persists the resulting transition. In-flight items hold a
// heartbeat lease; items whose lease expires are rolled back to the preceding
// ready status and redelivered, so stages must tolerate re-running.
package workflow
