package daemon

import (
	"context"
	"time"

	"tonearm/internal/api"
	"tonearm/internal/logging"
)

// keyRetention is how long expired or revoked keys are kept for auditing.
const keyRetention = 30 * 24 * time.Hour

func (d *Daemon) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()
	for {
		d.cleanupOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) cleanupOnce(ctx context.Context) {
	req := api.CleanStagingRequest{
		WorkspaceDir: d.cfg.Paths.WorkspaceDir,
		Jobs:         d.store,
	}
	// A zero retention disables the scratch sweep; in-use directories have no
	// other protection.
	if retention := time.Duration(d.cfg.Workers.ScratchRetentionHr) * time.Hour; retention > 0 {
		req.ScratchDir = d.cfg.Paths.ScratchDir
		req.MaxAge = retention
	}
	result, err := api.CleanStagingDirectories(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "staging cleanup failed", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database and workspace_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed until the next run"),
		)
	} else if removed := len(result.Scratch.Removed) + len(result.Workspace.Removed); removed > 0 {
		d.logger.Info("staging cleanup",
			logging.Int("scratch_removed", len(result.Scratch.Removed)),
			logging.Int("workspace_removed", len(result.Workspace.Removed)),
			logging.Int("errors", len(result.Scratch.Errors)+len(result.Workspace.Errors)),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}

	purged, err := d.keys.Purge(ctx, time.Now().Add(-keyRetention))
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "api key purge failed", "api_key_purge_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "expired keys remain in the database"),
			)
		}
		return
	}
	if purged > 0 {
		d.logger.Info("purged dead api keys",
			logging.Int64("count", purged),
			logging.String(logging.FieldEventType, "api_key_purge"),
		)
	}
}
