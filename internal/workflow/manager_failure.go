package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
	"tonearm/internal/services"
)

// handleStageFailure classifies a stage error and either schedules another
// attempt or fails the job.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, worker string, job *queue.Job, info stageInfo, stageErr error) {
	kind := services.KindOf(stageErr)
	decision := m.policy.Decide(kind, job.Attempts)
	message := failureMessage(info.name, stageErr)
	m.setLastError(stageErr)

	if decision.Retry() {
		nextAttempt := m.now().Add(decision.Delay)
		updated, err := m.store.TransitionFrom(ctx, job.ID, worker, info.status, queue.StatusRetrying, queue.Update{
			ErrorClass:    decision.Kind,
			ErrorMessage:  message,
			RetryStage:    info.status,
			NextAttemptAt: nextAttempt,
		})
		if err != nil {
			m.abandon(logger, "schedule retry", err)
			return
		}
		logging.WarnWithContext(logger, "stage failed; retry scheduled", "stage_retry_scheduled",
			logging.String(logging.FieldStage, info.name),
			logging.String(logging.FieldErrorKind, string(decision.Kind)),
			logging.Duration("retry_delay", decision.Delay),
			logging.Int("max_attempts", m.policy.MaxAttempts),
			logging.Error(stageErr),
			logging.String(logging.FieldImpact, fmt.Sprintf("job resumes at %s", info.status)),
			logging.String(logging.FieldErrorHint, retryHint(decision.Kind)),
		)
		m.setLastJob(updated)
		m.Wake()
		return
	}

	updated, err := m.store.TransitionFrom(ctx, job.ID, worker, info.status, queue.StatusFailed, queue.Update{
		ErrorClass:     decision.Kind,
		LastErrorClass: decision.LastKind,
		ErrorMessage:   message,
	})
	if err != nil {
		m.abandon(logger, "record failure", err)
		return
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String(logging.FieldStage, info.name),
		logging.String(logging.FieldErrorKind, string(decision.Kind)),
		logging.String("last_error_kind", string(decision.LastKind)),
		logging.Int(logging.FieldAttempt, job.Attempts),
		logging.Alert("stage_failure"),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, failureHint(decision.Kind)),
	)
	m.finishJob(ctx, logger, updated)
}

func failureMessage(stageName string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return fmt.Sprintf("%s failed", stageName)
	}
	return message
}

func retryHint(kind services.Kind) string {
	switch kind {
	case services.KindRateLimited, services.KindForbidden:
		return "source provider is throttling; lower fetch.requests_per_minute if this persists"
	case services.KindTimeout:
		return "raise workers.stage_timeout for long sources"
	default:
		return "check logs for details"
	}
}

func failureHint(kind services.Kind) string {
	switch kind {
	case services.KindNotFound:
		return "verify the source URL is still available"
	case services.KindMalformedInput:
		return "the source stream could not be decoded"
	case services.KindQuotaExceeded:
		return "free space in the artifact store"
	case services.KindConfiguration:
		return "check the storage and binary settings in the config file"
	case services.KindExhausted:
		return "retry budget spent; resubmit once the upstream problem clears"
	default:
		return "check logs for details"
	}
}
