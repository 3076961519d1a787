package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tonearm/internal/audio"
	"tonearm/internal/queue"
	"tonearm/internal/services"
	"tonearm/internal/testsupport"
)

func TestCreateStartsQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.Attempts != 0 || job.Progress != 0 {
		t.Fatalf("expected zero attempts and progress, got %d/%v", job.Attempts, job.Progress)
	}

	fetched, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.SourceID != "dQw4w9WgXcQ" || fetched.Format != audio.MP3 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps, got %#v", fetched)
	}
}

func TestCreateRejectsUnsupportedFormat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.Create(context.Background(), queue.NewJob{
		SourceURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		SourceID:  "dQw4w9WgXcQ",
		Format:    audio.Format("flac"),
	})
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.M4A)

	expires := time.Now().Add(time.Hour).UTC()
	steps := []struct {
		to       queue.Status
		upd      queue.Update
		progress float64
	}{
		{queue.StatusFetching, queue.Update{}, 10},
		{queue.StatusTranscoding, queue.Update{RawPath: "/tmp/raw.webm"}, 40},
		{queue.StatusPublishing, queue.Update{EncodedPath: "/tmp/out.m4a"}, 75},
		{queue.StatusSucceeded, queue.Update{
			ArtifactLocation: "dQw4w9WgXcQ.m4a",
			RetrievalURL:     "http://example.test/files/token",
			URLExpiresAt:     expires,
		}, 100},
	}
	for _, step := range steps {
		updated := testsupport.MustTransition(t, store, job.ID, step.to, step.upd)
		if updated.Status != step.to {
			t.Fatalf("expected status %s, got %s", step.to, updated.Status)
		}
		if updated.Progress != step.progress {
			t.Fatalf("%s: expected progress %v, got %v", step.to, step.progress, updated.Progress)
		}
	}

	final, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", final.Attempts)
	}
	if final.RawPath != "/tmp/raw.webm" || final.EncodedPath != "/tmp/out.m4a" {
		t.Fatalf("expected workspace paths to persist, got %q %q", final.RawPath, final.EncodedPath)
	}
	if final.ArtifactLocation != "dQw4w9WgXcQ.m4a" || final.RetrievalURL == "" {
		t.Fatalf("expected publish result, got %#v", final)
	}
	if final.URLExpiresAt == nil || !final.URLExpiresAt.Equal(expires) {
		t.Fatalf("expected url expiry %v, got %v", expires, final.URLExpiresAt)
	}

	history, err := store.History(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []queue.Status{queue.StatusQueued, queue.StatusFetching, queue.StatusTranscoding, queue.StatusPublishing, queue.StatusSucceeded}
	if len(history) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(history))
	}
	for i, record := range history {
		if record.To != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], record.To)
		}
		if i > 0 && record.From != want[i-1] {
			t.Fatalf("transition %d: expected from %s, got %s", i, want[i-1], record.From)
		}
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	cases := []struct {
		name string
		to   queue.Status
		upd  queue.Update
	}{
		{"skip to publishing", queue.StatusPublishing, queue.Update{}},
		{"retry from queued", queue.StatusRetrying, queue.Update{}},
		{"succeed without cache hit", queue.StatusSucceeded, queue.Update{}},
	}
	for _, tc := range cases {
		if _, err := store.Transition(ctx, job.ID, tc.to, tc.upd); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", tc.name, err)
		}
	}

	testsupport.MustTransition(t, store, job.ID, queue.StatusFailed, queue.Update{
		ErrorClass:   services.KindNotFound,
		ErrorMessage: "video unavailable",
	})
	for _, to := range []queue.Status{queue.StatusQueued, queue.StatusFetching, queue.StatusSucceeded, queue.StatusFailed} {
		if _, err := store.Transition(ctx, job.ID, to, queue.Update{}); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("terminal -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}

	failed, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Attempts != 0 {
		t.Fatalf("expected failing from queued to keep zero attempts, got %d", failed.Attempts)
	}
	if failed.ErrorClass != services.KindNotFound || failed.LastErrorClass != services.KindNotFound {
		t.Fatalf("expected not_found error classes, got %s/%s", failed.ErrorClass, failed.LastErrorClass)
	}
}

func TestCacheHitResolvesFromQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	resolved := testsupport.MustTransition(t, store, job.ID, queue.StatusSucceeded, queue.Update{
		CacheHit:         true,
		ArtifactLocation: "dQw4w9WgXcQ.mp3",
		RetrievalURL:     "http://example.test/files/abc",
	})
	if !resolved.CacheHit || resolved.Progress != 100 {
		t.Fatalf("expected cache hit at 100%%, got %#v", resolved)
	}
	if resolved.Attempts != 1 {
		t.Fatalf("expected cache resolution to count one attempt, got %d", resolved.Attempts)
	}
}

func TestTransitionFromDetectsConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-1", time.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusQueued, queue.StatusFetching, queue.Update{}); err != nil {
		t.Fatalf("first TransitionFrom: %v", err)
	}
	_, err := store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusQueued, queue.StatusFetching, queue.Update{})
	if !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionFromRequiresLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if _, err := store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusQueued, queue.StatusFetching, queue.Update{}); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for an unclaimed job, got %v", err)
	}

	if _, err := store.ClaimNext(ctx, "worker-1", time.Now()); err != nil {
		t.Fatalf("ClaimNext worker-1: %v", err)
	}
	if _, err := store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusQueued, queue.StatusFetching, queue.Update{}); err != nil {
		t.Fatalf("TransitionFrom worker-1: %v", err)
	}

	// worker-1 stalls long enough for its lease to be handed to worker-2.
	if _, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	claimed, err := store.ClaimNext(ctx, "worker-2", time.Now())
	if err != nil {
		t.Fatalf("ClaimNext worker-2: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected worker-2 to claim the reclaimed job, got %#v", claimed)
	}
	if _, err := store.TransitionFrom(ctx, job.ID, "worker-2", queue.StatusRetrying, queue.StatusFetching, queue.Update{}); err != nil {
		t.Fatalf("TransitionFrom worker-2: %v", err)
	}

	_, err = store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusFetching, queue.StatusTranscoding, queue.Update{RawPath: "/tmp/stale-raw"})
	if !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for the previous holder, got %v", err)
	}
	_, err = store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusFetching, queue.StatusRetrying, queue.Update{
		ErrorClass:    services.KindTransientIO,
		NextAttemptAt: time.Now(),
	})
	if !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost when the previous holder reports a failure, got %v", err)
	}

	current, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Status != queue.StatusFetching || current.RawPath != "" || current.ClaimedBy != "worker-2" {
		t.Fatalf("expected fetching job untouched under worker-2, got %s raw=%q claimed_by=%q", current.Status, current.RawPath, current.ClaimedBy)
	}

	advanced, err := store.TransitionFrom(ctx, job.ID, "worker-2", queue.StatusFetching, queue.StatusTranscoding, queue.Update{RawPath: "/tmp/raw"})
	if err != nil {
		t.Fatalf("TransitionFrom worker-2 transcoding: %v", err)
	}
	if advanced.RawPath != "/tmp/raw" {
		t.Fatalf("expected worker-2 raw path, got %q", advanced.RawPath)
	}
}

func TestRetryingResumesAtRecordedStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	testsupport.MustTransition(t, store, job.ID, queue.StatusFetching, queue.Update{})
	testsupport.MustTransition(t, store, job.ID, queue.StatusTranscoding, queue.Update{RawPath: "/tmp/raw"})

	next := time.Now().Add(30 * time.Second)
	retrying := testsupport.MustTransition(t, store, job.ID, queue.StatusRetrying, queue.Update{
		ErrorClass:    services.KindTimeout,
		ErrorMessage:  "ffmpeg timed out",
		RetryStage:    queue.StatusTranscoding,
		NextAttemptAt: next,
	})
	if retrying.RetryStage != queue.StatusTranscoding {
		t.Fatalf("expected retry stage transcoding, got %s", retrying.RetryStage)
	}
	if retrying.NextAttemptAt == nil || !retrying.NextAttemptAt.Equal(next.UTC()) {
		t.Fatalf("expected next attempt %v, got %v", next, retrying.NextAttemptAt)
	}
	if retrying.ResumeStatus() != queue.StatusTranscoding {
		t.Fatalf("expected resume at transcoding, got %s", retrying.ResumeStatus())
	}

	if _, err := store.Transition(ctx, job.ID, queue.StatusPublishing, queue.Update{}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected resume at publishing to be rejected, got %v", err)
	}

	resumed := testsupport.MustTransition(t, store, job.ID, queue.StatusTranscoding, queue.Update{})
	if resumed.Attempts != 2 {
		t.Fatalf("expected attempts 2 after resuming, got %d", resumed.Attempts)
	}
	if resumed.LastErrorClass != services.KindTimeout {
		t.Fatalf("expected last error class timeout, got %s", resumed.LastErrorClass)
	}
}

func TestExhaustedKeepsLastObservedKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	testsupport.MustTransition(t, store, job.ID, queue.StatusFetching, queue.Update{})
	failed := testsupport.MustTransition(t, store, job.ID, queue.StatusFailed, queue.Update{
		ErrorClass:     services.KindExhausted,
		LastErrorClass: services.KindRateLimited,
		ErrorMessage:   "retry budget exhausted",
	})
	if failed.ErrorClass != services.KindExhausted {
		t.Fatalf("expected exhausted, got %s", failed.ErrorClass)
	}
	if failed.LastErrorClass != services.KindRateLimited {
		t.Fatalf("expected last error class rate_limited, got %s", failed.LastErrorClass)
	}
}

func TestClaimNextHonoursDueTimeAndLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "aaaaaaaaaaa", audio.MP3)
	second := testsupport.NewJob(t, store, "bbbbbbbbbbb", audio.MP3)

	now := time.Now()
	claimed, err := store.ClaimNext(ctx, "worker-1", now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID || claimed.ClaimedBy != "worker-1" {
		t.Fatalf("expected first job claimed by worker-1, got %#v", claimed)
	}

	other, err := store.ClaimNext(ctx, "worker-2", now)
	if err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}
	if other == nil || other.ID != second.ID {
		t.Fatalf("expected second job for worker-2, got %#v", other)
	}

	none, err := store.ClaimNext(ctx, "worker-3", now)
	if err != nil {
		t.Fatalf("ClaimNext empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no job, got %#v", none)
	}

	testsupport.MustTransition(t, store, first.ID, queue.StatusFetching, queue.Update{})
	testsupport.MustTransition(t, store, first.ID, queue.StatusRetrying, queue.Update{
		ErrorClass:    services.KindRateLimited,
		NextAttemptAt: now.Add(time.Minute),
	})

	early, err := store.ClaimNext(ctx, "worker-3", now)
	if err != nil {
		t.Fatalf("ClaimNext early: %v", err)
	}
	if early != nil {
		t.Fatalf("expected retrying job to wait for its due time, got %#v", early)
	}
	due, err := store.ClaimNext(ctx, "worker-3", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext due: %v", err)
	}
	if due == nil || due.ID != first.ID {
		t.Fatalf("expected retrying job once due, got %#v", due)
	}
}

func TestHeartbeatRequiresLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-1", time.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, job.ID, "worker-2"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for foreign worker, got %v", err)
	}

	if err := store.Release(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	released, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if released.ClaimedBy != "" || released.LastHeartbeat != nil {
		t.Fatalf("expected lease cleared, got %#v", released)
	}
}

func TestUpdateProgressNeverMovesBackwards(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-1", time.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	testsupport.MustTransition(t, store, job.ID, queue.StatusFetching, queue.Update{})

	if err := store.UpdateProgress(ctx, job.ID, "worker-1", 25, "downloading"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := store.UpdateProgress(ctx, job.ID, "worker-1", 15, "still downloading"); err != nil {
		t.Fatalf("UpdateProgress lower: %v", err)
	}
	updated, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Progress != 25 {
		t.Fatalf("expected progress 25, got %v", updated.Progress)
	}
	if updated.ProgressMessage != "still downloading" {
		t.Fatalf("expected latest message, got %q", updated.ProgressMessage)
	}
	if updated.ClaimedBy != "worker-1" {
		t.Fatalf("expected lease kept through processing transitions, got %q", updated.ClaimedBy)
	}
}

func TestReclaimStaleMovesToRetrying(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })

	inFlight := testsupport.NewJob(t, store, "aaaaaaaaaaa", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-1", past); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	testsupport.MustTransition(t, store, inFlight.ID, queue.StatusFetching, queue.Update{})
	testsupport.MustTransition(t, store, inFlight.ID, queue.StatusTranscoding, queue.Update{})

	claimedQueued := testsupport.NewJob(t, store, "bbbbbbbbbbb", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-2", past); err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}

	store.SetClock(time.Now)
	count, err := store.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 leases reclaimed, got %d", count)
	}

	reclaimed, err := store.Get(ctx, inFlight.ID)
	if err != nil {
		t.Fatalf("Get in-flight: %v", err)
	}
	if reclaimed.Status != queue.StatusRetrying || reclaimed.RetryStage != queue.StatusTranscoding {
		t.Fatalf("expected retrying at transcoding, got %s/%s", reclaimed.Status, reclaimed.RetryStage)
	}
	if reclaimed.ClaimedBy != "" || reclaimed.LastHeartbeat != nil {
		t.Fatalf("expected lease cleared, got %#v", reclaimed)
	}
	if reclaimed.Attempts != 1 {
		t.Fatalf("expected reclaim to keep attempts at 1, got %d", reclaimed.Attempts)
	}
	if reclaimed.Reclaims != 1 || !reclaimed.LeaseExpired {
		t.Fatalf("expected one recorded lease expiry, got reclaims=%d lease_expired=%v", reclaimed.Reclaims, reclaimed.LeaseExpired)
	}

	queued, err := store.Get(ctx, claimedQueued.ID)
	if err != nil {
		t.Fatalf("Get queued: %v", err)
	}
	if queued.Status != queue.StatusQueued || queued.ClaimedBy != "" {
		t.Fatalf("expected queued job released, got %s claimed by %q", queued.Status, queued.ClaimedBy)
	}
}

func TestReclaimStaleLeavesFreshLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	if _, err := store.ClaimNext(ctx, "worker-1", time.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	testsupport.MustTransition(t, store, job.ID, queue.StatusFetching, queue.Update{})

	count, err := store.ReclaimStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reclaim, got %d", count)
	}

	reset, err := store.ResetClaims(ctx)
	if err != nil {
		t.Fatalf("ResetClaims: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected ResetClaims to release 1 lease, got %d", reset)
	}
	updated, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != queue.StatusRetrying || updated.RetryStage != queue.StatusFetching {
		t.Fatalf("expected retrying at fetching, got %s/%s", updated.Status, updated.RetryStage)
	}
}

func TestListAndClearTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "aaaaaaaaaaa", audio.MP3)
	testsupport.MustTransition(t, store, done.ID, queue.StatusSucceeded, queue.Update{CacheHit: true, ArtifactLocation: "aaaaaaaaaaa.mp3"})
	broken := testsupport.NewJob(t, store, "bbbbbbbbbbb", audio.MP3)
	testsupport.MustTransition(t, store, broken.ID, queue.StatusFailed, queue.Update{ErrorClass: services.KindNotFound})
	waiting := testsupport.NewJob(t, store, "ccccccccccc", audio.M4A)

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	terminal, err := store.List(ctx, queue.StatusSucceeded, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List terminal: %v", err)
	}
	if len(terminal) != 2 {
		t.Fatalf("expected 2 terminal jobs, got %d", len(terminal))
	}

	active, err := store.ActiveIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveIDs: %v", err)
	}
	if _, ok := active[waiting.ID]; !ok || len(active) != 1 {
		t.Fatalf("expected only the waiting job active, got %v", active)
	}

	if removed, err := store.Remove(ctx, waiting.ID); err != nil || removed {
		t.Fatalf("expected active job to be kept, removed=%v err=%v", removed, err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusSucceeded] != 1 || stats[queue.StatusFailed] != 1 || stats[queue.StatusQueued] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	cleared, err := store.ClearTerminal(ctx)
	if err != nil {
		t.Fatalf("ClearTerminal: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	history, err := store.History(ctx, done.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected history removed with job, got %d records", len(history))
	}
}

func TestCheckHealthReportsColumns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health: %#v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("expected no missing columns, got %v", health.MissingColumns)
	}
	if health.TotalJobs != 1 || !health.IntegrityCheck {
		t.Fatalf("unexpected totals: %#v", health)
	}
}

func TestResumeAfterReclaimKeepsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(2, 1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	claimAndStart(t, store, job.ID, "worker-1", queue.StatusQueued, queue.StatusFetching)
	if _, err := store.TransitionFrom(ctx, job.ID, "worker-1", queue.StatusFetching, queue.StatusRetrying, queue.Update{
		ErrorClass:    services.KindTransientIO,
		ErrorMessage:  "connection reset",
		RetryStage:    queue.StatusFetching,
		NextAttemptAt: time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}
	last := claimAndStart(t, store, job.ID, "worker-2", queue.StatusRetrying, queue.StatusFetching)
	if last.Attempts != cfg.Retry.MaxAttempts {
		t.Fatalf("expected the final attempt (%d), got %d", cfg.Retry.MaxAttempts, last.Attempts)
	}

	if _, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	resumed := claimAndStart(t, store, job.ID, "worker-3", queue.StatusRetrying, queue.StatusFetching)
	if resumed.Attempts != cfg.Retry.MaxAttempts {
		t.Fatalf("expected resume to continue attempt %d, got %d", cfg.Retry.MaxAttempts, resumed.Attempts)
	}
	if resumed.LeaseExpired {
		t.Fatal("expected resume to clear the lease expiry marker")
	}
	if resumed.LastErrorClass != services.KindTransientIO {
		t.Fatalf("expected last error class kept across the reclaim, got %s", resumed.LastErrorClass)
	}

	if _, err := store.TransitionFrom(ctx, job.ID, "worker-3", queue.StatusFetching, queue.StatusRetrying, queue.Update{
		ErrorClass:    services.KindTransientIO,
		RetryStage:    queue.StatusFetching,
		NextAttemptAt: time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("schedule retry after resume: %v", err)
	}
	next := claimAndStart(t, store, job.ID, "worker-4", queue.StatusRetrying, queue.StatusFetching)
	if next.Attempts != cfg.Retry.MaxAttempts+1 {
		t.Fatalf("expected an ordinary retry to open a new attempt, got %d", next.Attempts)
	}
}

func TestReclaimLimitFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(2, 1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dQw4w9WgXcQ", audio.MP3)
	claimAndStart(t, store, job.ID, "worker-0", queue.StatusQueued, queue.StatusFetching)
	for i := 1; i <= cfg.Retry.MaxAttempts; i++ {
		if _, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("ReclaimStale %d: %v", i, err)
		}
		resumed := claimAndStart(t, store, job.ID, fmt.Sprintf("worker-%d", i), queue.StatusRetrying, queue.StatusFetching)
		if resumed.Reclaims != i {
			t.Fatalf("expected %d reclaims, got %d", i, resumed.Reclaims)
		}
	}

	if _, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("final ReclaimStale: %v", err)
	}
	failed, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Status != queue.StatusFailed || failed.ErrorClass != services.KindExhausted {
		t.Fatalf("expected exhausted failure, got %s/%s", failed.Status, failed.ErrorClass)
	}
	if failed.ClaimedBy != "" || failed.Attempts != 1 {
		t.Fatalf("expected released job with one attempt, got claimed_by=%q attempts=%d", failed.ClaimedBy, failed.Attempts)
	}
}

// claimAndStart claims the next due job for worker and moves it from -> to.
func claimAndStart(t *testing.T, store *queue.Store, id, worker string, from, to queue.Status) *queue.Job {
	t.Helper()
	ctx := context.Background()
	claimed, err := store.ClaimNext(ctx, worker, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext %s: %v", worker, err)
	}
	if claimed == nil || claimed.ID != id {
		t.Fatalf("expected %s to claim %s, got %#v", worker, id, claimed)
	}
	job, err := store.TransitionFrom(ctx, id, worker, from, to, queue.Update{})
	if err != nil {
		t.Fatalf("TransitionFrom %s: %v", worker, err)
	}
	return job
}
