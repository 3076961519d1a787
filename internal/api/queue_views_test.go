package api

import "testing"

func TestSortJobsNewestFirst(t *testing.T) {
	jobs := []JobView{
		{ID: "a", CreatedAt: "2026-01-01T00:00:00.000Z"},
		{ID: "c", CreatedAt: "2026-01-03T00:00:00.000Z"},
		{ID: "b", CreatedAt: "2026-01-02T00:00:00.000Z"},
		{ID: "d", CreatedAt: "2026-01-03T00:00:00.000Z"},
	}
	sorted := SortJobsNewestFirst(jobs)
	got := ""
	for _, job := range sorted {
		got += job.ID
	}
	if got != "dcba" {
		t.Fatalf("order = %q, want dcba", got)
	}
	if jobs[0].ID != "a" {
		t.Fatal("input slice was modified")
	}
	if SortJobsNewestFirst(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestParseQueueTimeInvalid(t *testing.T) {
	if !ParseQueueTime("yesterday").IsZero() {
		t.Fatal("expected zero time for invalid input")
	}
	if ParseQueueTime("2026-01-03T00:00:00.000Z").IsZero() {
		t.Fatal("expected parsed time")
	}
}
