package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Submission is a request to convert one source into one format.
type Submission struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// JobHandle is returned by Submit before any work has started.
type JobHandle struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl,omitempty"`
}

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID            string      `json:"id"`
	SourceURL     string      `json:"sourceUrl"`
	SourceID      string      `json:"sourceId"`
	Format        string      `json:"format"`
	Status        string      `json:"status"`
	Progress      JobProgress `json:"progress"`
	Attempts      int         `json:"attempts"`
	NextAttemptAt string      `json:"nextAttemptAt,omitempty"`
	Result        *JobResult  `json:"result,omitempty"`
	Error         *JobError   `json:"error,omitempty"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	UpdatedAt     string      `json:"updatedAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// JobResult is present once a job succeeded.
type JobResult struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Location  string `json:"location"`
	CacheHit  bool   `json:"cacheHit"`
}

// JobError is present while a job is retrying or after it failed.
type JobError struct {
	Class     string `json:"class"`
	LastClass string `json:"lastClass,omitempty"`
	Message   string `json:"message"`
}

// TransitionView is one entry of a job's lifecycle history.
type TransitionView struct {
	From       string `json:"from,omitempty"`
	To         string `json:"to"`
	Attempt    int    `json:"attempt"`
	ErrorClass string `json:"errorClass,omitempty"`
	Message    string `json:"message,omitempty"`
	At         string `json:"at"`
}

// WorkflowStatus summarizes scheduler execution state.
type WorkflowStatus struct {
	Running     bool              `json:"running"`
	Workers     int               `json:"workers"`
	Busy        map[string]string `json:"busy,omitempty"`
	QueueStats  map[string]int    `json:"queueStats"`
	LastError   string            `json:"lastError,omitempty"`
	LastJob     *JobView          `json:"lastJob,omitempty"`
	StageHealth []StageHealth     `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}
