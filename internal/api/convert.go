package api

import (
	"slices"

	"tonearm/internal/queue"
	"tonearm/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) JobView {
	if job == nil {
		return JobView{}
	}
	dto := JobView{
		ID:        job.ID,
		SourceURL: job.SourceURL,
		SourceID:  job.SourceID,
		Format:    string(job.Format),
		Status:    string(job.Status),
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.Progress,
			Message: job.ProgressMessage,
		},
		Attempts: job.Attempts,
	}
	if dto.Progress.Stage == "" {
		dto.Progress.Stage = job.Status.StageLabel()
	}
	if job.Status == queue.StatusRetrying && job.NextAttemptAt != nil {
		dto.NextAttemptAt = job.NextAttemptAt.UTC().Format(dateTimeFormat)
	}
	if job.Status == queue.StatusSucceeded {
		result := &JobResult{
			URL:      job.RetrievalURL,
			Location: job.ArtifactLocation,
			CacheHit: job.CacheHit,
		}
		if job.URLExpiresAt != nil {
			result.ExpiresAt = job.URLExpiresAt.UTC().Format(dateTimeFormat)
		}
		dto.Result = result
	}
	if job.ErrorClass != "" || job.ErrorMessage != "" {
		dto.Error = &JobError{
			Class:     string(job.ErrorClass),
			LastClass: string(job.LastErrorClass),
			Message:   job.ErrorMessage,
		}
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*queue.Job) []JobView {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromTransitions converts lifecycle history into API DTOs.
func FromTransitions(records []queue.TransitionRecord) []TransitionView {
	out := make([]TransitionView, 0, len(records))
	for _, record := range records {
		out = append(out, TransitionView{
			From:       string(record.From),
			To:         string(record.To),
			Attempt:    record.Attempt,
			ErrorClass: string(record.ErrorClass),
			Message:    record.Message,
			At:         record.At.UTC().Format(dateTimeFormat),
		})
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	healthNames := make([]string, 0, len(summary.StageHealth))
	for name := range summary.StageHealth {
		healthNames = append(healthNames, name)
	}
	slices.Sort(healthNames)

	health := make([]StageHealth, 0, len(healthNames))
	for _, name := range healthNames {
		h := summary.StageHealth[name]
		health = append(health, StageHealth{
			Name:   name,
			Ready:  h.Ready,
			Detail: h.Detail,
		})
	}

	status := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		Busy:        summary.Busy,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		LastError:   summary.LastError,
		StageHealth: health,
	}
	if summary.LastJob != nil {
		view := FromJob(summary.LastJob)
		status.LastJob = &view
	}
	return status
}

// MergeQueueStats converts status counts into a map keyed by status string,
// listing every known status so consumers see zeros explicitly.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}
