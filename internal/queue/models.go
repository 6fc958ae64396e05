package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item. Each document moves through
// the stage pairs in order; the "-ing" status marks an in-flight stage and the
// corresponding past-tense status marks its output being ready for the next
// stage.
type Status string

const (
	StatusPending     Status = "pending"
	StatusExtracting  Status = "extracting"
	StatusExtracted   Status = "extracted"
	StatusEmbedding   Status = "embedding"
	StatusEmbedded    Status = "embedded"
	StatusStructuring Status = "structuring"
	StatusStructured  Status = "structured"
	StatusValidating  Status = "validating"
	StatusValidated   Status = "validated"
	StatusSaving      Status = "saving"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusReview      Status = "review"
)

var allStatuses = []Status{
	StatusPending,
	StatusExtracting,
	StatusExtracted,
	StatusEmbedding,
	StatusEmbedded,
	StatusStructuring,
	StatusStructured,
	StatusValidating,
	StatusValidated,
	StatusSaving,
	StatusCompleted,
	StatusFailed,
	StatusReview,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusExtracting:  {},
	StatusEmbedding:   {},
	StatusStructuring: {},
	StatusValidating:  {},
	StatusSaving:      {},
}

type statusTransition struct {
	from Status
	to   Status
}

// stageRollbackTransitions map each processing status to the ready status that
// precedes it. Reclaiming a stale item applies these, which is how the queue
// models redelivery after a lease expires: the stage re-runs from its input and
// relies on idempotency rather than cancellation.
var stageRollbackTransitions = []statusTransition{
	{from: StatusExtracting, to: StatusPending},
	{from: StatusEmbedding, to: StatusExtracted},
	{from: StatusStructuring, to: StatusEmbedded},
	{from: StatusValidating, to: StatusStructured},
	{from: StatusSaving, to: StatusValidated},
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Review     int
	Completed  int
}

// Item represents a queue item persisted in SQLite. The envelope JSON is the
// message payload passed between stages; everything else is bookkeeping for
// the workflow manager and operators.
type Item struct {
	ID              int64
	DocumentID      string
	SourceKey       string
	Status          Status
	EnvelopeJSON    string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	LastHeartbeat   *time.Time
	NeedsReview     bool
	ReviewReason    string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (i Item) IsProcessing() bool {
	_, ok := processingStatuses[i.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// ProcessingStatuses returns the set of in-flight statuses in stage order.
func ProcessingStatuses() []Status {
	out := make([]Status, 0, len(stageRollbackTransitions))
	for _, tr := range stageRollbackTransitions {
		out = append(out, tr.from)
	}
	return out
}

// SetProgress updates all three progress fields atomically.
func (i *Item) SetProgress(stage, message string, percent float64) {
	i.ProgressStage = stage
	i.ProgressMessage = message
	i.ProgressPercent = percent
}

// SetFailed marks the item as failed with the given error message.
func (i *Item) SetFailed(message string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
	i.ProgressPercent = 0
	i.ProgressMessage = message
	i.LastHeartbeat = nil
	i.ProgressStage = "Failed"
}

// SetReview parks the item for manual intervention with the given reason.
func (i *Item) SetReview(reason string) {
	i.Status = StatusReview
	i.NeedsReview = true
	i.ReviewReason = reason
	i.ErrorMessage = reason
	i.ProgressMessage = reason
	i.LastHeartbeat = nil
	i.ProgressStage = "Review"
}
