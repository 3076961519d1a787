package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tonearm/internal/audio"
	"tonearm/internal/queue"
	"tonearm/internal/source"
)

// ErrInvalidSubmission reports a submission the core refuses to enqueue.
var ErrInvalidSubmission = errors.New("invalid submission")

// ErrNotFound reports an unknown job handle.
var ErrNotFound = queue.ErrNotFound

// JobStore abstracts the job persistence the service needs.
type JobStore interface {
	Create(ctx context.Context, spec queue.NewJob) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	History(ctx context.Context, id string) ([]queue.TransitionRecord, error)
	Remove(ctx context.Context, id string) (bool, error)
	ClearSucceeded(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	ClearTerminal(ctx context.Context) (int64, error)
}

// URLIssuer re-signs retrieval URLs whose previous link expired.
type URLIssuer interface {
	IssueURL(ctx context.Context, location string, ttl time.Duration) (string, time.Time, error)
}

// Waker is notified after a job was enqueued.
type Waker interface {
	Wake()
}

// Service is the caller-facing surface of the conversion pipeline.
type Service struct {
	store      JobStore
	waker      Waker
	issuer     URLIssuer
	urlTTL     time.Duration
	statusBase string
	now        func() time.Time
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithWaker nudges the scheduler after each submission.
func WithWaker(w Waker) Option {
	return func(s *Service) { s.waker = w }
}

// WithURLRefresh lets Get replace an expired retrieval URL with a fresh one.
func WithURLRefresh(issuer URLIssuer, ttl time.Duration) Option {
	return func(s *Service) {
		s.issuer = issuer
		s.urlTTL = ttl
	}
}

// WithStatusBase sets the public base URL used to build status links.
func WithStatusBase(base string) Option {
	return func(s *Service) { s.statusBase = strings.TrimRight(strings.TrimSpace(base), "/") }
}

// NewService constructs a Service around the provided store.
func NewService(store JobStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and enqueues a conversion. It returns immediately; the
// job is processed asynchronously.
func (s *Service) Submit(ctx context.Context, sub Submission) (JobHandle, error) {
	ref, err := source.Parse(sub.URL)
	if err != nil {
		return JobHandle{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	format, err := audio.Parse(sub.Format)
	if err != nil {
		return JobHandle{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	job, err := s.store.Create(ctx, queue.NewJob{SourceURL: ref.URL, SourceID: ref.ID, Format: format})
	if err != nil {
		return JobHandle{}, err
	}
	if s.waker != nil {
		s.waker.Wake()
	}
	return JobHandle{ID: job.ID, Status: string(job.Status), StatusURL: s.StatusURL(job.ID)}, nil
}

// StatusURL returns the public status link of a job, or "" when no base URL
// is configured.
func (s *Service) StatusURL(id string) string {
	if s.statusBase == "" {
		return ""
	}
	return s.statusBase + "/status/" + id
}

// Get returns the current view of a job. ErrNotFound is returned for unknown
// handles.
func (s *Service) Get(ctx context.Context, id string) (JobView, error) {
	job, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return JobView{}, err
	}
	view := FromJob(job)
	s.refreshURL(ctx, job, &view)
	return view, nil
}

func (s *Service) refreshURL(ctx context.Context, job *queue.Job, view *JobView) {
	if s.issuer == nil || view.Result == nil || job.ArtifactLocation == "" {
		return
	}
	if job.URLExpiresAt == nil || job.URLExpiresAt.After(s.now()) {
		return
	}
	url, expiry, err := s.issuer.IssueURL(ctx, job.ArtifactLocation, s.urlTTL)
	if err != nil {
		return
	}
	view.Result.URL = url
	view.Result.ExpiresAt = expiry.UTC().Format(dateTimeFormat)
}

// List returns jobs filtered by status, oldest first.
func (s *Service) List(ctx context.Context, statuses ...queue.Status) ([]JobView, error) {
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// History returns the lifecycle transitions of a job.
func (s *Service) History(ctx context.Context, id string) ([]TransitionView, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromTransitions(records), nil
}
