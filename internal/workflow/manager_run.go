package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

type worker struct {
	id   string
	jobs chan *queue.Job
}

// Start resets leases left over from a previous process and begins
// background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.running = true
	m.mu.Unlock()

	if reset, err := m.store.ResetClaims(ctx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("reset job leases: %w", err)
	} else if reset > 0 {
		m.logger.Info("released leases from previous run",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "lease_reset"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	idle := make(chan *worker)

	m.mu.Lock()
	m.cancel = cancel
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	for i := 1; i <= m.workers; i++ {
		w := &worker{id: m.workerID(i), jobs: make(chan *queue.Job)}
		go m.runWorker(runCtx, w, idle)
	}
	go m.dispatch(runCtx, idle)

	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.String("instance", m.instance),
		logging.Duration("stage_timeout", m.stageTimeout),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight attempts to
// unwind. Interrupted jobs keep their lease and are recovered on the next
// Start or by stale reclaim.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, w *worker, idle chan<- *worker) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case idle <- w:
		}
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			m.processJob(ctx, w.id, job)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, idle <-chan *worker) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "workflow-dispatcher")
	var lastReclaim time.Time

	for {
		var w *worker
		select {
		case <-ctx.Done():
			return
		case w = <-idle:
		}

		for {
			if now := m.now(); now.Sub(lastReclaim) >= m.reclaimInterval() {
				lastReclaim = now
				if _, err := m.heartbeat.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("reclaim stale leases failed; stuck jobs may remain",
						logging.Error(err),
						logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
						logging.String(logging.FieldErrorHint, "check queue database access"),
					)
				}
			}

			job, err := m.store.ClaimNext(ctx, w.id, m.now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.setLastError(err)
				logger.Error("failed to claim next job",
					logging.Error(err),
					logging.String(logging.FieldEventType, "queue_claim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
				if !m.waitForWork(ctx) {
					return
				}
				continue
			}
			if job == nil {
				if !m.waitForWork(ctx) {
					return
				}
				continue
			}

			select {
			case w.jobs <- job:
			case <-ctx.Done():
				if err := m.store.Release(context.WithoutCancel(ctx), job.ID, w.id); err != nil {
					logger.Debug("release undelivered job failed", logging.Error(err))
				}
				return
			}
			break
		}
	}
}

// waitForWork blocks until the poll interval elapses or Wake is called. It
// returns false once ctx is done.
func (m *Manager) waitForWork(ctx context.Context) bool {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (m *Manager) reclaimInterval() time.Duration {
	if m.heartbeat.heartbeatInterval > 0 {
		return m.heartbeat.heartbeatInterval
	}
	return m.pollInterval
}
