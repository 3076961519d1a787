package queue

import (
	"database/sql"
	"errors"
	"time"

	"tonearm/internal/audio"
	"tonearm/internal/services"
)

const jobColumns = "id, source_url, source_id, format, status, progress, progress_stage, progress_message, attempts, retry_stage, next_attempt_at, error_class, last_error_class, error_message, artifact_location, retrieval_url, url_expires_at, cache_hit, raw_path, encoded_path, claimed_by, last_heartbeat, reclaims, lease_expired, created_at, updated_at"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		sourceURL       string
		sourceID        string
		format          string
		statusStr       string
		progress        sql.NullFloat64
		progressStage   sql.NullString
		progressMessage sql.NullString
		attempts        sql.NullInt64
		retryStage      sql.NullString
		nextAttemptRaw  sql.NullString
		errorClass      sql.NullString
		lastErrorClass  sql.NullString
		errorMessage    sql.NullString
		artifact        sql.NullString
		retrievalURL    sql.NullString
		urlExpiresRaw   sql.NullString
		cacheHit        sql.NullInt64
		rawPath         sql.NullString
		encodedPath     sql.NullString
		claimedBy       sql.NullString
		heartbeatRaw    sql.NullString
		reclaims        sql.NullInt64
		leaseExpired    sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceURL,
		&sourceID,
		&format,
		&statusStr,
		&progress,
		&progressStage,
		&progressMessage,
		&attempts,
		&retryStage,
		&nextAttemptRaw,
		&errorClass,
		&lastErrorClass,
		&errorMessage,
		&artifact,
		&retrievalURL,
		&urlExpiresRaw,
		&cacheHit,
		&rawPath,
		&encodedPath,
		&claimedBy,
		&heartbeatRaw,
		&reclaims,
		&leaseExpired,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		SourceURL:        sourceURL,
		SourceID:         sourceID,
		Format:           audio.Format(format),
		Status:           Status(statusStr),
		Progress:         progress.Float64,
		ProgressStage:    progressStage.String,
		ProgressMessage:  progressMessage.String,
		Attempts:         int(attempts.Int64),
		RetryStage:       Status(retryStage.String),
		ErrorClass:       services.Kind(errorClass.String),
		LastErrorClass:   services.Kind(lastErrorClass.String),
		ErrorMessage:     errorMessage.String,
		ArtifactLocation: artifact.String,
		RetrievalURL:     retrievalURL.String,
		CacheHit:         cacheHit.Valid && cacheHit.Int64 != 0,
		RawPath:          rawPath.String,
		EncodedPath:      encodedPath.String,
		ClaimedBy:        claimedBy.String,
		Reclaims:         int(reclaims.Int64),
		LeaseExpired:     leaseExpired.Valid && leaseExpired.Int64 != 0,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.NextAttemptAt = parseNullableTime(nextAttemptRaw)
	job.URLExpiresAt = parseNullableTime(urlExpiresRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	return job, nil
}

func scanTransition(scanner interface{ Scan(dest ...any) error }) (TransitionRecord, error) {
	var (
		record     TransitionRecord
		from       sql.NullString
		errorClass sql.NullString
		message    sql.NullString
		atRaw      string
	)
	if err := scanner.Scan(&record.ID, &record.JobID, &from, &record.To, &record.Attempt, &errorClass, &message, &atRaw); err != nil {
		return TransitionRecord{}, err
	}
	record.From = Status(from.String)
	record.ErrorClass = services.Kind(errorClass.String)
	record.Message = message.String
	if at, err := parseTimeString(atRaw); err == nil {
		record.At = at
	}
	return record, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTimeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
