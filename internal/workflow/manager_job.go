package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
	"tonearm/internal/resultcache"
	"tonearm/internal/services"
	"tonearm/internal/stage"
	"tonearm/internal/staging"
)

func (m *Manager) processJob(ctx context.Context, worker string, job *queue.Job) {
	jobCtx, cancel := context.WithCancel(services.WithRequestID(services.WithWorker(services.WithJobID(ctx, job.ID), worker), uuid.NewString()))
	defer cancel()

	logger := logging.WithContext(jobCtx, logging.NewComponentLogger(m.logger, "workflow-worker")).With(
		logging.String(logging.FieldSourceID, job.SourceID),
		logging.String(logging.FieldFormat, string(job.Format)),
	)

	m.trackStart(worker, job)
	defer m.trackDone(worker)

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		m.heartbeat.Run(jobCtx, job.ID, worker, cancel)
	}()
	defer func() {
		cancel()
		hbWG.Wait()
	}()

	if job.Status == queue.StatusQueued && m.resolveFromCache(jobCtx, logger, worker, job) {
		return
	}
	m.onJobStarted(ctx)
	m.runAttempt(jobCtx, logger, worker, job)
}

// resolveFromCache finishes a queued job from a previous publish of the same
// source and format. It reports whether the job was handled.
func (m *Manager) resolveFromCache(ctx context.Context, logger *slog.Logger, worker string, job *queue.Job) bool {
	key := resultcache.Key(job.SourceID, job.Format)
	entry, ok := m.cache.Lookup(ctx, key)
	if !ok || entry.Expired(m.now()) {
		return false
	}
	url, expiry, err := m.stages.Publisher.IssueURL(ctx, entry.Location, m.urlTTL)
	if err != nil {
		logging.WarnWithContext(logger, "cached artifact unavailable; running full pipeline", "cache_hit_discarded",
			logging.String("cache_key", key),
			logging.String("location", entry.Location),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job is converted again"),
		)
		return false
	}
	resolved, err := m.store.TransitionFrom(ctx, job.ID, worker, queue.StatusQueued, queue.StatusSucceeded, queue.Update{
		CacheHit:         true,
		ArtifactLocation: entry.Location,
		RetrievalURL:     url,
		URLExpiresAt:     expiry,
		ProgressMessage:  "Resolved from cache",
	})
	if err != nil {
		m.abandon(logger, "persist cache resolution", err)
		return true
	}
	logger.Info("job resolved from cache",
		logging.String(logging.FieldEventType, "cache_hit"),
		logging.String("cache_key", key),
		logging.String("location", entry.Location),
	)
	m.finishJob(ctx, logger, resolved)
	return true
}

func (m *Manager) runAttempt(ctx context.Context, logger *slog.Logger, worker string, job *queue.Job) {
	start := m.resumeStatus(job)
	if recorded := job.ResumeStatus(); start != recorded {
		logger.Info("workspace artifacts missing; restarting from fetch",
			logging.String("retry_stage", string(recorded)),
		)
	}
	current, err := m.store.TransitionFrom(ctx, job.ID, worker, job.Status, start, queue.Update{})
	if err != nil {
		m.abandon(logger, "start attempt", err)
		return
	}
	job = current
	logger = logger.With(logging.Int(logging.FieldAttempt, job.Attempts))

	info, _ := stageFor(job.Status)
	dir, err := m.scratch.Acquire(job.ID, job.Attempts)
	if err != nil {
		m.handleStageFailure(ctx, logger, worker, job, info, err)
		return
	}
	defer func() {
		if err := dir.Release(); err != nil {
			logger.Warn("scratch cleanup failed",
				logging.String("path", dir.Path()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_cleanup_failed"),
				logging.String(logging.FieldImpact, "scratch space is reclaimed by the stale sweeper"),
			)
		}
	}()

	for {
		info, ok := stageFor(job.Status)
		if !ok {
			return
		}
		upd, err := m.runStage(ctx, logger, worker, job, info, dir)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				logger.Info("attempt interrupted; lease left for recovery",
					logging.String(logging.FieldEventType, "attempt_interrupted"),
					logging.String("processing_status", string(job.Status)),
				)
				return
			}
			m.handleStageFailure(ctx, logger, worker, job, info, err)
			return
		}
		next, err := m.store.TransitionFrom(ctx, job.ID, worker, info.status, info.next, upd)
		if err != nil {
			m.abandon(logger, "record stage result", err)
			return
		}
		job = next
		m.setLastJob(job)
		if job.IsTerminal() {
			m.finishJob(ctx, logger, job)
			return
		}
	}
}

// resumeStatus picks the first stage of the coming attempt, falling back to
// fetching when the workspace lost what the recorded stage needs.
func (m *Manager) resumeStatus(job *queue.Job) queue.Status {
	status := job.ResumeStatus()
	switch status {
	case queue.StatusTranscoding:
		if !m.work.Has(job.RawPath) {
			return queue.StatusFetching
		}
	case queue.StatusPublishing:
		if !m.work.Has(job.EncodedPath) {
			return queue.StatusFetching
		}
	}
	return status
}

func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, worker string, job *queue.Job, info stageInfo, dir *staging.Dir) (queue.Update, error) {
	stageCtx := services.WithStage(ctx, info.name)
	stageLogger := m.stageLogger(logger, info.name)
	if m.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, m.stageTimeout)
		defer cancel()
	}

	sampler := logging.NewProgressSampler(5)
	req := stage.Request{
		JobID:      job.ID,
		Attempt:    job.Attempts,
		SourceURL:  job.SourceURL,
		SourceID:   job.SourceID,
		Format:     job.Format,
		ScratchDir: dir.Path(),
		Progress: func(percent float64, message string) {
			m.reportProgress(ctx, stageLogger, worker, job.ID, info, sampler, percent, message)
		},
	}

	started := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(info.status)),
	)

	var (
		upd queue.Update
		err error
	)
	switch info.status {
	case queue.StatusFetching:
		upd, err = m.fetch(stageCtx, job, req)
	case queue.StatusTranscoding:
		req.InputPath = job.RawPath
		upd, err = m.transcode(stageCtx, job, req)
	case queue.StatusPublishing:
		req.InputPath = job.EncodedPath
		upd, err = m.publish(stageCtx, job, req)
	}
	if err != nil {
		return upd, err
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(info.next)),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return upd, nil
}

func (m *Manager) fetch(ctx context.Context, job *queue.Job, req stage.Request) (queue.Update, error) {
	artifact, err := m.stages.Fetcher.Fetch(ctx, req)
	if err != nil {
		return queue.Update{}, err
	}
	raw, err := m.work.Commit(job.ID, artifact.Path, "source"+filepath.Ext(artifact.Path))
	if err != nil {
		return queue.Update{}, err
	}
	return queue.Update{RawPath: raw}, nil
}

func (m *Manager) transcode(ctx context.Context, job *queue.Job, req stage.Request) (queue.Update, error) {
	artifact, err := m.stages.Transcoder.Transcode(ctx, req)
	if err != nil {
		return queue.Update{}, err
	}
	encoded, err := m.work.Commit(job.ID, artifact.Path, stage.ObjectKey(job.SourceID, job.Format))
	if err != nil {
		return queue.Update{}, err
	}
	return queue.Update{EncodedPath: encoded}, nil
}

func (m *Manager) publish(ctx context.Context, job *queue.Job, req stage.Request) (queue.Update, error) {
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return queue.Update{}, services.Wrap(services.ErrTransientIO, "publish", "stat encoded artifact", "", err)
	}
	location, err := m.stages.Publisher.Store(ctx, stage.Object{
		Key:         stage.ObjectKey(job.SourceID, job.Format),
		Path:        req.InputPath,
		ContentType: job.Format.ContentType(),
		Size:        info.Size(),
	})
	if err != nil {
		return queue.Update{}, err
	}
	req.Report(80, "artifact stored")
	url, expiry, err := m.stages.Publisher.IssueURL(ctx, location, m.urlTTL)
	if err != nil {
		return queue.Update{}, err
	}
	m.cache.Store(ctx, resultcache.Key(job.SourceID, job.Format), location, m.cacheTTL)
	return queue.Update{
		ArtifactLocation: location,
		RetrievalURL:     url,
		URLExpiresAt:     expiry,
	}, nil
}

func (m *Manager) reportProgress(ctx context.Context, logger *slog.Logger, worker, jobID string, info stageInfo, sampler *logging.ProgressSampler, percent float64, message string) {
	if !sampler.ShouldLog(percent) {
		return
	}
	overall := info.scale(percent)
	if err := m.store.UpdateProgress(ctx, jobID, worker, overall, message); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("progress update failed", logging.Error(err))
		return
	}
	logger.Debug("stage progress",
		logging.Float64(logging.FieldProgressPercent, overall),
		logging.String(logging.FieldProgressMessage, message),
	)
}

// abandon gives up on a job whose state changed underneath the worker or
// could not be persisted. The lease expires on its own.
func (m *Manager) abandon(logger *slog.Logger, operation string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("daemon shutting down, job left for recovery", logging.String("operation", operation))
		return
	case errors.Is(err, queue.ErrConflict), errors.Is(err, queue.ErrInvalidTransition), errors.Is(err, queue.ErrLeaseLost):
		logging.WarnWithContext(logger, "job changed underneath worker; attempt abandoned", "job_conflict",
			logging.String("operation", operation),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the current holder of the job continues it"),
		)
	default:
		logging.ErrorWithContext(logger, "failed to persist job state", "queue_update_failed",
			logging.String("operation", operation),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	m.setLastError(err)
}
