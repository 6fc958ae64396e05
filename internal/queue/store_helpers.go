package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const itemColumns = `id, document_id, source_key, status, envelope_json, error_message,
    created_at, updated_at, progress_stage, progress_percent, progress_message,
    last_heartbeat, needs_review, review_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item            Item
		sourceKey       sql.NullString
		envelopeJSON    sql.NullString
		errorMessage    sql.NullString
		createdAt       string
		updatedAt       string
		progressStage   sql.NullString
		progressMessage sql.NullString
		lastHeartbeat   sql.NullString
		needsReview     int
		reviewReason    sql.NullString
	)

	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&sourceKey,
		&item.Status,
		&envelopeJSON,
		&errorMessage,
		&createdAt,
		&updatedAt,
		&progressStage,
		&item.ProgressPercent,
		&progressMessage,
		&lastHeartbeat,
		&needsReview,
		&reviewReason,
	); err != nil {
		return nil, err
	}

	item.SourceKey = sourceKey.String
	item.EnvelopeJSON = envelopeJSON.String
	item.ErrorMessage = errorMessage.String
	item.ProgressStage = progressStage.String
	item.ProgressMessage = progressMessage.String
	item.NeedsReview = needsReview != 0
	item.ReviewReason = reviewReason.String

	var err error
	if item.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if item.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastHeartbeat.Valid && lastHeartbeat.String != "" {
		hb, err := parseTimeString(lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_heartbeat: %w", err)
		}
		item.LastHeartbeat = &hb
	}

	return &item, nil
}

func parseTimeString(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
