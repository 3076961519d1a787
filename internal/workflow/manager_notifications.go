package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/queue"
)

// finishJob runs the bookkeeping shared by every terminal outcome.
func (m *Manager) finishJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if job == nil {
		return
	}
	m.setLastJob(job)
	if err := m.work.Remove(job.ID); err != nil {
		logger.Warn("workspace cleanup failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
			logging.String(logging.FieldImpact, "orphaned workspace is removed by the cleanup sweep"),
		)
	}
	if job.Status == queue.StatusSucceeded {
		logger.Info("job succeeded",
			logging.String(logging.FieldEventType, "job_succeeded"),
			logging.Bool("cache_hit", job.CacheHit),
			logging.String("location", job.ArtifactLocation),
			logging.String(logging.FieldRetrievalURL, job.RetrievalURL),
			logging.Int(logging.FieldAttempt, job.Attempts),
		)
	}
	m.notifyJobResolved(ctx, job)
	m.checkQueueCompletion(ctx)
}

func (m *Manager) notifyJobResolved(ctx context.Context, job *queue.Job) {
	if m.notifier == nil {
		return
	}
	var (
		event   notifications.Event
		payload = notifications.Payload{
			"jobID":    job.ID,
			"sourceID": job.SourceID,
			"format":   string(job.Format),
		}
	)
	switch job.Status {
	case queue.StatusSucceeded:
		event = notifications.EventJobSucceeded
		payload["cacheHit"] = job.CacheHit
	case queue.StatusFailed:
		event = notifications.EventJobFailed
		payload["errorClass"] = string(job.ErrorClass)
		payload["error"] = job.ErrorMessage
	default:
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send job notification")
		} else {
			m.logger.Debug("job notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) onJobStarted(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not get queue stats for start notification")
		} else {
			m.logger.Warn("queue stats unavailable for start notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "start notification will not be sent"),
			)
		}
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": countActiveJobs(stats)}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue start notification")
		} else {
			m.logger.Debug("queue start notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) checkQueueCompletion(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not check queue completion")
		} else {
			m.logger.Warn("queue stats unavailable for completion notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "completion notification will not be sent"),
			)
		}
		return
	}
	if countActiveJobs(stats) > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}
	if err := m.notifier.Publish(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"processed": stats[queue.StatusSucceeded],
		"failed":    stats[queue.StatusFailed],
		"duration":  duration,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue completion notification")
		} else {
			m.logger.Debug("queue completion notification failed", logging.Error(err))
		}
	}
}

func countActiveJobs(stats map[queue.Status]int) int {
	total := 0
	for status, count := range stats {
		if status.IsTerminal() {
			continue
		}
		total += count
	}
	return total
}
