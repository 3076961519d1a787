package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tonearm/internal/staging"
)

// ActiveJobProvider surfaces the ids of jobs that may still need their
// workspace.
type ActiveJobProvider interface {
	ActiveIDs(ctx context.Context) (map[string]struct{}, error)
}

type CleanStagingRequest struct {
	ScratchDir   string
	WorkspaceDir string
	// MaxAge bounds how old an unreleased scratch directory may get. Zero
	// removes every scratch directory.
	MaxAge time.Duration
	Jobs   ActiveJobProvider
}

type CleanStagingResult struct {
	Scratch   staging.CleanStaleResult
	Workspace staging.CleanStaleResult
}

// CleanStagingDirectories removes stale scratch directories and workspaces
// that no active job references.
func CleanStagingDirectories(ctx context.Context, req CleanStagingRequest) (CleanStagingResult, error) {
	var result CleanStagingResult
	if dir := strings.TrimSpace(req.ScratchDir); dir != "" {
		result.Scratch = staging.CleanStale(ctx, dir, req.MaxAge, nil)
	}
	dir := strings.TrimSpace(req.WorkspaceDir)
	if dir == "" {
		return result, nil
	}
	if req.Jobs == nil {
		return CleanStagingResult{}, fmt.Errorf("active job provider is required to clean workspaces")
	}
	active, err := req.Jobs.ActiveIDs(ctx)
	if err != nil {
		return CleanStagingResult{}, err
	}
	result.Workspace = staging.CleanOrphaned(ctx, dir, active, nil)
	return result, nil
}
