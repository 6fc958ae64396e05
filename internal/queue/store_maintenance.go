package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UpdateHeartbeat refreshes the lease on an in-flight item. The workflow
// manager calls this on a timer so stale leases can be distinguished from
// healthy long-running stages.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET last_heartbeat = ? WHERE id = ?`,
		now,
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ClearHeartbeat removes the lease marker once a stage finishes.
func (s *Store) ClearHeartbeat(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET last_heartbeat = NULL WHERE id = ?`,
		id,
	); err != nil {
		return fmt.Errorf("clear heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing rolls back in-flight items whose heartbeat is older
// than the timeout. Each processing status maps to the ready status that feeds
// it, so a reclaimed item is redelivered to the same stage and the stage's
// idempotency makes the re-run safe.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		return 0, fmt.Errorf("reclaim timeout must be positive, got %s", timeout)
	}
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339Nano)

	var caseClauses strings.Builder
	args := make([]any, 0, len(stageRollbackTransitions)*2+2)
	statusArgs := make([]any, 0, len(stageRollbackTransitions))
	for _, tr := range stageRollbackTransitions {
		caseClauses.WriteString(" WHEN ? THEN ?")
		args = append(args, string(tr.from), string(tr.to))
		statusArgs = append(statusArgs, string(tr.from))
	}

	query := `UPDATE queue_items
        SET status = CASE status` + caseClauses.String() + ` END,
            last_heartbeat = NULL,
            progress_message = 'reclaimed after stale heartbeat',
            updated_at = ?
        WHERE status IN (` + makePlaceholders(len(statusArgs)) + `)
          AND (last_heartbeat IS NULL OR last_heartbeat < ?)`

	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	args = append(args, statusArgs...)
	args = append(args, cutoff)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale processing: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing unconditionally rolls back all in-flight items to their
// input statuses. Used on daemon startup, where any processing marker is left
// over from a previous run.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	var caseClauses strings.Builder
	args := make([]any, 0, len(stageRollbackTransitions)*2+1)
	statusArgs := make([]any, 0, len(stageRollbackTransitions))
	for _, tr := range stageRollbackTransitions {
		caseClauses.WriteString(" WHEN ? THEN ?")
		args = append(args, string(tr.from), string(tr.to))
		statusArgs = append(statusArgs, string(tr.from))
	}

	query := `UPDATE queue_items
        SET status = CASE status` + caseClauses.String() + ` END,
            last_heartbeat = NULL,
            updated_at = ?
        WHERE status IN (` + makePlaceholders(len(statusArgs)) + `)`

	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	args = append(args, statusArgs...)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset stuck processing: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed returns failed and review items to pending so the pipeline picks
// them up again from the first stage.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, error_message = NULL, needs_review = 0, review_reason = NULL,
             progress_stage = NULL, progress_percent = 0, progress_message = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusFailed,
		StatusReview,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return res.RowsAffected()
}

// RetryItem returns a single failed or review item to pending.
func (s *Store) RetryItem(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, error_message = NULL, needs_review = 0, review_reason = NULL,
             progress_stage = NULL, progress_percent = 0, progress_message = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusFailed,
		StatusReview,
	)
	if err != nil {
		return false, fmt.Errorf("retry item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
