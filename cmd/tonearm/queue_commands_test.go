package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"tonearm/internal/api"
	"tonearm/internal/audio"
	"tonearm/internal/queue"
	"tonearm/internal/services"
	"tonearm/internal/testsupport"
)

func TestQueueStatusAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.NewJob(t, env.store, "aaaaaaaaaaa", audio.MP3)
	failed := testsupport.NewJob(t, env.store, "bbbbbbbbbbb", audio.M4A)
	testsupport.MustTransition(t, env.store, failed.ID, queue.StatusFailed, queue.Update{
		ErrorClass:   services.KindMalformedInput,
		ErrorMessage: "video unavailable",
	})

	out, _, err := runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queued")
	requireContains(t, out, "Failed")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "aaaaaaaaaaa")
	requireContains(t, out, "bbbbbbbbbbb")

	out, _, err = runCLI(t, []string{"--json", "queue", "list", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	var resp api.JobListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != failed.ID {
		t.Fatalf("expected only the failed job, got %+v", resp.Jobs)
	}
	if resp.Jobs[0].Error == nil || resp.Jobs[0].Error.Class != string(services.KindMalformedInput) {
		t.Fatalf("expected malformed_input error, got %+v", resp.Jobs[0].Error)
	}

	if _, _, err := runCLI(t, []string{"queue", "list", "--status", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown status filter")
	}
}

func TestQueueClearAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	active := testsupport.NewJob(t, env.store, "aaaaaaaaaaa", audio.MP3)
	first := testsupport.NewJob(t, env.store, "bbbbbbbbbbb", audio.MP3)
	second := testsupport.NewJob(t, env.store, "ccccccccccc", audio.MP3)
	for _, job := range []*queue.Job{first, second} {
		testsupport.MustTransition(t, env.store, job.ID, queue.StatusFailed, queue.Update{
			ErrorClass: services.KindMalformedInput,
		})
	}

	out, _, err := runCLI(t, []string{"queue", "remove", first.ID, active.ID, "unknown"}, env.configPath)
	if err != nil {
		t.Fatalf("queue remove: %v", err)
	}
	requireContains(t, out, "Removed job "+first.ID)
	requireContains(t, out, "Job unknown not found")
	requireContains(t, out, "wait for it to finish")

	out, _, err = runCLI(t, []string{"queue", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 failed jobs")

	jobs, err := env.store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != active.ID {
		t.Fatalf("expected only the queued job to remain, got %d jobs", len(jobs))
	}

	if _, _, err := runCLI(t, []string{"queue", "clear", "--failed", "--succeeded"}, env.configPath); err == nil {
		t.Fatal("expected error for conflicting clear flags")
	}
}

func TestQueueHealth(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewJob(t, env.store, "aaaaaaaaaaa", audio.MP3)

	out, _, err := runCLI(t, []string{"queue", "health"}, env.configPath)
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	requireContains(t, out, "Integrity")
	if !strings.Contains(out, "[OK] yes") {
		t.Fatalf("expected healthy database, got:\n%s", out)
	}
}
