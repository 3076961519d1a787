package queue

import "errors"

var (
	// ErrNotFound reports an unknown job handle.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition reports a move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict reports that another writer changed the job's status first.
	ErrConflict = errors.New("job status changed concurrently")
	// ErrLeaseLost reports that the caller no longer holds the job's lease.
	ErrLeaseLost = errors.New("job lease lost")
)
