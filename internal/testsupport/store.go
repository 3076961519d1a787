package testsupport

import (
	"context"
	"testing"

	"tonearm/internal/audio"
	"tonearm/internal/config"
	"tonearm/internal/queue"
	"tonearm/internal/source"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob enqueues a job for the given video id using the provided store.
func NewJob(t testing.TB, store *queue.Store, videoID string, format audio.Format) *queue.Job {
	t.Helper()

	job, err := store.Create(context.Background(), queue.NewJob{
		SourceURL: source.CanonicalURL(videoID),
		SourceID:  videoID,
		Format:    format,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// MustTransition applies a transition and fails the test on error.
func MustTransition(t testing.TB, store *queue.Store, id string, to queue.Status, upd queue.Update) *queue.Job {
	t.Helper()

	job, err := store.Transition(context.Background(), id, to, upd)
	if err != nil {
		t.Fatalf("Transition to %s: %v", to, err)
	}
	return job
}
