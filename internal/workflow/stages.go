package workflow

import (
	"context"

	"tonearm/internal/queue"
	"tonearm/internal/stage"
)

// Stages bundles the concrete executors the manager orchestrates.
type Stages struct {
	Fetcher    stage.Fetcher
	Transcoder stage.Transcoder
	Publisher  stage.Publisher
}

func (s Stages) validate() error {
	switch {
	case s.Fetcher == nil:
		return errStageMissing("fetch")
	case s.Transcoder == nil:
		return errStageMissing("transcode")
	case s.Publisher == nil:
		return errStageMissing("publish")
	}
	return nil
}

type stageInfo struct {
	name   string
	status queue.Status
	next   queue.Status
	// progress band covered by intra-stage reports
	floor   float64
	ceiling float64
}

var pipeline = []stageInfo{
	{name: "fetch", status: queue.StatusFetching, next: queue.StatusTranscoding},
	{name: "transcode", status: queue.StatusTranscoding, next: queue.StatusPublishing},
	{name: "publish", status: queue.StatusPublishing, next: queue.StatusSucceeded},
}

func init() {
	for i := range pipeline {
		pipeline[i].floor, _ = queue.StageProgress(pipeline[i].status)
		pipeline[i].ceiling, _ = queue.StageProgress(pipeline[i].next)
	}
}

func stageFor(status queue.Status) (stageInfo, bool) {
	for _, info := range pipeline {
		if info.status == status {
			return info, true
		}
	}
	return stageInfo{}, false
}

// scale maps an intra-stage percentage into the job's overall progress.
func (s stageInfo) scale(percent float64) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return s.floor + (s.ceiling-s.floor)*percent/100
}

func (s Stages) health(ctx context.Context) map[string]stage.Health {
	out := make(map[string]stage.Health, 3)
	add := func(name string, executor any) {
		if checker, ok := executor.(stage.HealthChecker); ok {
			out[name] = checker.HealthCheck(ctx)
			return
		}
		if executor == nil {
			out[name] = stage.Unhealthy(name, "not configured")
			return
		}
		out[name] = stage.Healthy(name)
	}
	add("fetch", s.Fetcher)
	add("transcode", s.Transcoder)
	add("publish", s.Publisher)
	return out
}
