package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tonearm/internal/services"
)

// Transition moves a job from its current status to another, validating the
// move against the state machine. The update is a compare-and-swap on the
// status and lease read inside the same transaction, so concurrent transitions
// on one job serialize and the loser sees ErrConflict. Transition does not
// check who holds the lease; workers use TransitionFrom.
func (s *Store) Transition(ctx context.Context, id string, to Status, upd Update) (*Job, error) {
	return s.transition(ctx, id, nil, nil, to, upd)
}

// TransitionFrom behaves like Transition but additionally requires the job to
// currently be in status from and to be leased to worker. A job leased to
// someone else, or to nobody, yields ErrLeaseLost.
func (s *Store) TransitionFrom(ctx context.Context, id, worker string, from, to Status, upd Update) (*Job, error) {
	return s.transition(ctx, id, &worker, &from, to, upd)
}

func (s *Store) transition(ctx context.Context, id string, worker *string, expected *Status, to Status, upd Update) (*Job, error) {
	if _, ok := statusSet[to]; !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	upd.leaseExpired = false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if worker != nil && current.ClaimedBy != *worker {
			return fmt.Errorf("%w: job %s is leased to %q, not %q", ErrLeaseLost, id, current.ClaimedBy, *worker)
		}
		if expected != nil && current.Status != *expected {
			return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current.Status, *expected)
		}
		if err := validateTransition(current, to, upd); err != nil {
			return err
		}
		return s.applyTransition(ctx, tx, current, to, upd)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func validateTransition(current *Job, to Status, upd Update) error {
	from := current.Status
	if from.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, current.ID, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == StatusQueued && to == StatusSucceeded && !upd.CacheHit {
		return fmt.Errorf("%w: queued -> succeeded requires a cache hit", ErrInvalidTransition)
	}
	if from == StatusRetrying && IsProcessingStatus(to) && to != StatusFetching && to != current.RetryStage {
		return fmt.Errorf("%w: retrying job resumes at %s, not %s", ErrInvalidTransition, current.RetryStage, to)
	}
	return nil
}

func (s *Store) applyTransition(ctx context.Context, tx *sql.Tx, current *Job, to Status, upd Update) error {
	now := s.clock()
	timestamp := formatTime(now)
	from := current.Status

	// Resuming after a lease expiry continues the interrupted attempt.
	attempts := current.Attempts
	if (from == StatusQueued || from == StatusRetrying) && to != StatusFailed && !current.LeaseExpired {
		attempts++
	}
	reclaims := current.Reclaims
	if upd.leaseExpired {
		reclaims++
	}
	leaseExpired := upd.leaseExpired && to == StatusRetrying

	progress := current.Progress
	if value, ok := StageProgress(to); ok {
		progress = value
	}

	errorClass := current.ErrorClass
	lastErrorClass := current.LastErrorClass
	errorMessage := current.ErrorMessage
	retryStage := current.RetryStage
	var nextAttempt any
	switch to {
	case StatusRetrying, StatusFailed:
		errorClass = upd.ErrorClass
		errorMessage = upd.ErrorMessage
		switch {
		case upd.LastErrorClass != "":
			lastErrorClass = upd.LastErrorClass
		case upd.ErrorClass != "" && upd.ErrorClass != services.KindExhausted:
			lastErrorClass = upd.ErrorClass
		}
		if to == StatusRetrying {
			retryStage = upd.RetryStage
			if !IsProcessingStatus(retryStage) {
				retryStage = from
			}
			nextAttempt = nullableTimeValue(upd.NextAttemptAt)
		}
	case StatusSucceeded:
		errorClass = ""
		errorMessage = ""
		retryStage = ""
	default:
		retryStage = ""
	}

	artifact := firstNonEmpty(upd.ArtifactLocation, current.ArtifactLocation)
	retrievalURL := firstNonEmpty(upd.RetrievalURL, current.RetrievalURL)
	var urlExpires any
	if !upd.URLExpiresAt.IsZero() {
		urlExpires = formatTime(upd.URLExpiresAt)
	} else if current.URLExpiresAt != nil {
		urlExpires = formatTime(*current.URLExpiresAt)
	}
	rawPath := firstNonEmpty(upd.RawPath, current.RawPath)
	encodedPath := firstNonEmpty(upd.EncodedPath, current.EncodedPath)

	releaseClaim := to.IsTerminal() || to == StatusRetrying
	claimedBy := nullableString(current.ClaimedBy)
	var heartbeat any
	if current.LastHeartbeat != nil {
		heartbeat = formatTime(*current.LastHeartbeat)
	}
	if releaseClaim {
		claimedBy = nil
		heartbeat = nil
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = ?, progress_stage = ?, progress_message = ?, attempts = ?,
             retry_stage = ?, next_attempt_at = ?, error_class = ?, last_error_class = ?,
             error_message = ?, artifact_location = ?, retrieval_url = ?, url_expires_at = ?,
             cache_hit = ?, raw_path = ?, encoded_path = ?, claimed_by = ?, last_heartbeat = ?,
             reclaims = ?, lease_expired = ?, updated_at = ?
         WHERE id = ? AND status = ? AND COALESCE(claimed_by, '') = ?`,
		to,
		progress,
		to.StageLabel(),
		nullableString(upd.ProgressMessage),
		attempts,
		nullableString(string(retryStage)),
		nextAttempt,
		nullableString(string(errorClass)),
		nullableString(string(lastErrorClass)),
		nullableString(errorMessage),
		nullableString(artifact),
		nullableString(retrievalURL),
		urlExpires,
		boolToInt(current.CacheHit || upd.CacheHit),
		nullableString(rawPath),
		nullableString(encodedPath),
		claimedBy,
		heartbeat,
		reclaims,
		boolToInt(leaseExpired),
		timestamp,
		current.ID,
		from,
		current.ClaimedBy,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s changed while moving %s -> %s", ErrConflict, current.ID, from, to)
	}
	message := upd.ErrorMessage
	if message == "" {
		message = upd.ProgressMessage
	}
	return insertTransition(ctx, tx, current.ID, from, to, attempts, upd.ErrorClass, message, timestamp)
}

func insertTransition(ctx context.Context, tx *sql.Tx, id string, from, to Status, attempt int, class services.Kind, message, at string) error {
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO job_transitions (job_id, from_status, to_status, attempt, error_class, message, at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		nullableString(string(from)),
		to,
		attempt,
		nullableString(string(class)),
		nullableString(message),
		at,
	); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ClaimNext leases the oldest due job to worker. Due jobs are unclaimed and
// either queued or retrying with next_attempt_at at or before now. It returns
// nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, worker string, now time.Time) (*Job, error) {
	ctx = ensureContext(ctx)
	stamp := formatTime(now)
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs SET claimed_by = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE claimed_by IS NULL
                   AND (status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)))
                 ORDER BY created_at, rowid
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			worker,
			stamp,
			stamp,
			StatusQueued,
			StatusRetrying,
			stamp,
		)
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Release drops worker's lease on a job without changing its status.
func (s *Store) Release(ctx context.Context, id, worker string) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET claimed_by = NULL, last_heartbeat = NULL, updated_at = ? WHERE id = ? AND claimed_by = ?`,
		formatTime(s.clock()),
		id,
		worker,
	); err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes worker's lease. ErrLeaseLost is returned when the
// job is no longer claimed by worker.
func (s *Store) UpdateHeartbeat(ctx context.Context, id, worker string) error {
	now := formatTime(s.clock())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND claimed_by = ?`,
		now,
		now,
		id,
		worker,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	return nil
}

// UpdateProgress records intra-stage progress without touching the heartbeat.
// Progress never moves backwards.
func (s *Store) UpdateProgress(ctx context.Context, id, worker string, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), progress_message = ?, updated_at = ?
         WHERE id = ? AND claimed_by = ?`,
		percent,
		nullableString(message),
		formatTime(s.clock()),
		id,
		worker,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	return nil
}

// ReclaimStale returns jobs whose lease heartbeat is older than cutoff to the
// scheduler. In-flight jobs move to retrying and resume at the stage they were
// in; claimed queued or retrying jobs simply lose their lease. A reclaim is
// not a failure: the resume continues the interrupted attempt and does not
// consume retry budget. A job that keeps losing its lease mid-stage fails as
// exhausted once it exceeds the reclaim limit.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.reclaim(ctx, `claimed_by IS NOT NULL AND (last_heartbeat IS NULL OR last_heartbeat < ?)`, formatTime(cutoff))
}

// ResetClaims releases every lease. It runs at startup, when no worker of a
// previous process can still be alive.
func (s *Store) ResetClaims(ctx context.Context) (int64, error) {
	return s.reclaim(ctx, `claimed_by IS NOT NULL`)
}

func (s *Store) reclaim(ctx context.Context, where string, args ...any) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		total = 0
		rows, err := tx.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("query stale leases: %w", err)
		}
		var stale []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, job)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := s.clock()
		for _, job := range stale {
			if job.IsProcessing() {
				to, upd := s.reclaimTarget(job)
				if err := s.applyTransition(ctx, tx, job, to, upd); err != nil {
					return err
				}
				total++
				continue
			}
			res, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET claimed_by = NULL, last_heartbeat = NULL, updated_at = ? WHERE id = ? AND status = ?`,
				formatTime(now),
				job.ID,
				job.Status,
			)
			if err != nil {
				return fmt.Errorf("clear stale claim: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				total++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim stale leases: %w", err)
	}
	return total, nil
}

// reclaimTarget picks where an in-flight job goes when its lease expires.
func (s *Store) reclaimTarget(job *Job) (Status, Update) {
	if s.reclaimLimit > 0 && job.Reclaims >= s.reclaimLimit {
		return StatusFailed, Update{
			ErrorClass:   services.KindExhausted,
			ErrorMessage: fmt.Sprintf("worker lease expired %d times", job.Reclaims+1),
			leaseExpired: true,
		}
	}
	return StatusRetrying, Update{
		ErrorClass:     job.ErrorClass,
		ErrorMessage:   "worker lease expired",
		LastErrorClass: job.LastErrorClass,
		RetryStage:     job.Status,
		NextAttemptAt:  s.clock(),
		leaseExpired:   true,
	}
}

// History returns the transitions recorded for a job in order.
func (s *Store) History(ctx context.Context, id string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, from_status, to_status, attempt, error_class, message, at
         FROM job_transitions WHERE job_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		record, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
