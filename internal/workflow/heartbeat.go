package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

// HeartbeatMonitor keeps job leases alive and reclaims the ones whose
// workers stopped heartbeating.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration, now func() time.Time) *HeartbeatMonitor {
	if now == nil {
		now = time.Now
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               now,
	}
}

// ReclaimStale moves jobs whose lease went silent for longer than the
// heartbeat timeout back to the scheduler.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	reclaimed, err := h.store.ReclaimStale(ctx, h.now().Add(-h.heartbeatTimeout))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale jobs",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "lease_reclaimed"),
		)
	}
	return reclaimed, nil
}

// Run refreshes the lease of jobID held by worker until ctx is done. When the
// store reports the lease lost, onLost is called once and the loop exits.
func (h *HeartbeatMonitor) Run(ctx context.Context, jobID, worker string, onLost func()) {
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.UpdateHeartbeat(ctx, jobID, worker)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "job lease lost; abandoning attempt", "lease_lost",
					logging.String(logging.FieldImpact, "another worker may pick the job up"),
					logging.String(logging.FieldErrorHint, "raise workers.heartbeat_timeout if stages stall for long periods"),
				)
				if onLost != nil {
					onLost()
				}
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat stopped by shutdown")
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
