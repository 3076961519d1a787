package queue

import (
	"strings"
	"time"

	"tonearm/internal/audio"
	"tonearm/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusFetching    Status = "fetching"
	StatusTranscoding Status = "transcoding"
	StatusPublishing  Status = "publishing"
	StatusRetrying    Status = "retrying"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusFetching,
	StatusTranscoding,
	StatusPublishing,
	StatusRetrying,
	StatusSucceeded,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusFetching:    {},
	StatusTranscoding: {},
	StatusPublishing:  {},
}

// transitions lists every allowed move. queued -> succeeded is further
// restricted to cache hits and retrying -> stage to the recorded retry stage
// (or fetching); both checks live in validateTransition.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusFetching, StatusSucceeded, StatusFailed},
	StatusFetching:    {StatusTranscoding, StatusRetrying, StatusFailed},
	StatusTranscoding: {StatusPublishing, StatusRetrying, StatusFailed},
	StatusPublishing:  {StatusSucceeded, StatusRetrying, StatusFailed},
	StatusRetrying:    {StatusFetching, StatusTranscoding, StatusPublishing, StatusFailed},
}

// stageProgress holds the fixed progress value reported on entering a status.
var stageProgress = map[Status]float64{
	StatusQueued:      0,
	StatusFetching:    10,
	StatusTranscoding: 40,
	StatusPublishing:  75,
	StatusSucceeded:   100,
}

// Job represents a conversion job persisted in SQLite.
type Job struct {
	ID               string
	SourceURL        string
	SourceID         string
	Format           audio.Format
	Status           Status
	Progress         float64
	ProgressStage    string
	ProgressMessage  string
	Attempts         int
	RetryStage       Status
	NextAttemptAt    *time.Time
	ErrorClass       services.Kind
	LastErrorClass   services.Kind
	ErrorMessage     string
	ArtifactLocation string
	RetrievalURL     string
	URLExpiresAt     *time.Time
	CacheHit         bool
	RawPath          string
	EncodedPath      string
	ClaimedBy        string
	LastHeartbeat    *time.Time
	// Reclaims counts how often the job lost its lease mid-stage.
	// LeaseExpired marks a retrying job whose next resume continues the
	// interrupted attempt instead of opening a new one.
	Reclaims         int
	LeaseExpired     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewJob describes a submission to enqueue.
type NewJob struct {
	SourceURL string
	SourceID  string
	Format    audio.Format
}

// Update carries the fields a transition may change alongside the status.
// Zero values leave the stored value untouched except where noted.
type Update struct {
	// ErrorClass and ErrorMessage describe the failure that caused a move to
	// retrying or failed.
	ErrorClass   services.Kind
	ErrorMessage string
	// LastErrorClass overrides the recorded last observed kind; when empty it
	// follows ErrorClass (except for KindExhausted, which keeps the prior value).
	LastErrorClass services.Kind
	// RetryStage and NextAttemptAt schedule the next attempt when moving to retrying.
	RetryStage    Status
	NextAttemptAt time.Time
	// Publish results, set when moving to succeeded.
	ArtifactLocation string
	RetrievalURL     string
	URLExpiresAt     time.Time
	CacheHit         bool
	// Workspace artifacts committed by a stage.
	RawPath     string
	EncodedPath string
	// ProgressMessage replaces the default progress text for the new status.
	ProgressMessage string

	leaseExpired bool
}

// TransitionRecord is one entry of a job's lifecycle history.
type TransitionRecord struct {
	ID         int64
	JobID      string
	From       Status
	To         Status
	Attempt    int
	ErrorClass services.Kind
	Message    string
	At         time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Retrying   int
	Failed     int
	Succeeded  int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
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

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsProcessing returns true when the job is inside a stage.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// IsTerminal reports whether the job reached succeeded or failed.
func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// ResumeStatus returns the stage a claimed job should run next.
func (j Job) ResumeStatus() Status {
	switch j.Status {
	case StatusQueued:
		return StatusFetching
	case StatusRetrying:
		if IsProcessingStatus(j.RetryStage) {
			return j.RetryStage
		}
		return StatusFetching
	default:
		return j.Status
	}
}

// StageLabel returns the presentation label for a status.
func (s Status) StageLabel() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusFetching:
		return "Fetching source"
	case StatusTranscoding:
		return "Transcoding"
	case StatusPublishing:
		return "Publishing"
	case StatusRetrying:
		return "Waiting to retry"
	case StatusSucceeded:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// StageProgress returns the fixed progress reported on entering a status and
// whether the status defines one.
func StageProgress(s Status) (float64, bool) {
	value, ok := stageProgress[s]
	return value, ok
}
