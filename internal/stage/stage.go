package stage

import (
	"context"
	"time"

	"tonearm/internal/audio"
)

// ProgressFunc receives intra-stage progress in percent of the stage (0-100)
// together with a short human-readable message.
type ProgressFunc func(percent float64, message string)

// Request describes the input to a single stage call.
type Request struct {
	JobID     string
	Attempt   int
	SourceURL string
	SourceID  string
	Format    audio.Format
	// InputPath is the artifact produced by the previous stage.
	InputPath string
	// ScratchDir is owned by the current attempt and removed when it ends.
	ScratchDir string
	Progress   ProgressFunc
}

// Report forwards progress when a callback is registered.
func (r Request) Report(percent float64, message string) {
	if r.Progress != nil {
		r.Progress(percent, message)
	}
}

// Artifact is a file produced by a stage inside the attempt scratch dir.
type Artifact struct {
	Path        string
	Size        int64
	ContentType string
	Duration    time.Duration
}

// Object is an encoded artifact ready for publishing under a stable key.
type Object struct {
	Key         string
	Path        string
	ContentType string
	Size        int64
}

// Fetcher materializes the raw source stream.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Artifact, error)
}

// Transcoder converts a raw stream into the requested audio format.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) (Artifact, error)
}

// Publisher persists encoded artifacts and issues time-limited retrieval URLs.
type Publisher interface {
	Store(ctx context.Context, obj Object) (string, error)
	IssueURL(ctx context.Context, location string, ttl time.Duration) (string, time.Time, error)
}

// Health is the readiness of one stage as reported in the daemon status.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports name as ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports name as not ready, with detail for the operator.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// HealthChecker is implemented by stage executors that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// ObjectKey returns the deterministic publish key for a source and format.
func ObjectKey(sourceID string, format audio.Format) string {
	return sourceID + "." + format.Extension()
}
