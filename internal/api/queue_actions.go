package api

import (
	"context"
	"errors"
	"fmt"

	"tonearm/internal/queue"
)

type RemoveJobOutcome string

const (
	RemoveJobRemoved  RemoveJobOutcome = "removed"
	RemoveJobNotFound RemoveJobOutcome = "not_found"
	RemoveJobActive   RemoveJobOutcome = "active"
)

type RemoveJobResult struct {
	ID      string           `json:"id"`
	Outcome RemoveJobOutcome `json:"outcome"`
	Status  string           `json:"status,omitempty"`
}

type RemoveJobsResult struct {
	RemovedCount int               `json:"removedCount"`
	Jobs         []RemoveJobResult `json:"jobs"`
}

// RemoveJobsByID deletes terminal jobs. Jobs still in flight are reported and
// left alone.
func (s *Service) RemoveJobsByID(ctx context.Context, ids []string) (RemoveJobsResult, error) {
	result := RemoveJobsResult{Jobs: make([]RemoveJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := s.store.Get(ctx, id)
		if errors.Is(err, queue.ErrNotFound) {
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobNotFound})
			continue
		}
		if err != nil {
			return RemoveJobsResult{}, err
		}
		if !job.IsTerminal() {
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobActive, Status: string(job.Status)})
			continue
		}
		removed, err := s.store.Remove(ctx, id)
		if err != nil {
			return RemoveJobsResult{}, err
		}
		if !removed {
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobNotFound})
			continue
		}
		result.RemovedCount++
		result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobRemoved, Status: string(job.Status)})
	}
	return result, nil
}

// ClearScope selects which terminal jobs Clear deletes.
type ClearScope string

const (
	ClearAll       ClearScope = "all"
	ClearSucceeded ClearScope = "succeeded"
	ClearFailed    ClearScope = "failed"
)

// Clear deletes terminal jobs in scope and returns how many were removed.
func (s *Service) Clear(ctx context.Context, scope ClearScope) (int64, error) {
	switch scope {
	case ClearAll, "":
		return s.store.ClearTerminal(ctx)
	case ClearSucceeded:
		return s.store.ClearSucceeded(ctx)
	case ClearFailed:
		return s.store.ClearFailed(ctx)
	default:
		return 0, fmt.Errorf("unknown clear scope %q", scope)
	}
}
