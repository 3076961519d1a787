package fetch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"tonearm/internal/config"
	"tonearm/internal/fetch"
	"tonearm/internal/proc"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

type fakeExecutor struct {
	lines  []proc.Line
	err    error
	output string
	args   []string
	block  bool
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onLine func(proc.Line)) error {
	f.args = append([]string{binary}, args...)
	for _, line := range f.lines {
		onLine(line)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.output != "" {
		if err := os.WriteFile(f.output, []byte("raw-audio"), 0o644); err != nil {
			return err
		}
	}
	return f.err
}

func newRequest(t *testing.T) stage.Request {
	t.Helper()
	return stage.Request{
		JobID:      "job-1",
		Attempt:    1,
		SourceURL:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		SourceID:   "dQw4w9WgXcQ",
		ScratchDir: t.TempDir(),
	}
}

func TestFetchReturnsDownloadedArtifact(t *testing.T) {
	req := newRequest(t)
	exec := &fakeExecutor{
		lines: []proc.Line{
			{Text: "[download] Destination: x.webm"},
			{Text: "[download]  42.5% of ~3.21MiB at 1.00MiB/s ETA 00:02"},
		},
		output: filepath.Join(req.ScratchDir, "dQw4w9WgXcQ.webm"),
	}
	var progress []float64
	req.Progress = func(percent float64, _ string) { progress = append(progress, percent) }

	f := fetch.New(config.Fetch{Binary: "yt-dlp", ExtraArgs: []string{"--force-ipv4"}}, fetch.WithExecutor(exec))
	artifact, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if artifact.Path != exec.output || artifact.Size != int64(len("raw-audio")) {
		t.Fatalf("unexpected artifact %#v", artifact)
	}
	if len(progress) != 2 || progress[0] != 42.5 || progress[1] != 100 {
		t.Fatalf("unexpected progress updates %v", progress)
	}
	joined := strings.Join(exec.args, " ")
	for _, want := range []string{"--no-playlist", "bestaudio/best", "--force-ipv4", req.SourceURL} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args %q", want, joined)
		}
	}
}

func TestFetchClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   services.Kind
	}{
		{"unavailable", "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable", services.KindNotFound},
		{"private", "ERROR: [youtube] dQw4w9WgXcQ: Private video", services.KindNotFound},
		{"rate limited", "ERROR: unable to download webpage: HTTP Error 429: Too Many Requests", services.KindRateLimited},
		{"forbidden", "ERROR: unable to download video data: HTTP Error 403: Forbidden", services.KindForbidden},
		{"timeout", "ERROR: Read timed out.", services.KindTimeout},
		{"unknown", "ERROR: something odd happened", services.KindTransientIO},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExecutor{
				lines: []proc.Line{{Text: tc.stderr, Stderr: true}},
				err:   &proc.ExitError{Code: 1, Stderr: tc.stderr},
			}
			f := fetch.New(config.Fetch{}, fetch.WithExecutor(exec))
			_, err := f.Fetch(context.Background(), newRequest(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := services.KindOf(err); got != tc.want {
				t.Fatalf("expected kind %s, got %s (%v)", tc.want, got, err)
			}
		})
	}
}

func TestFetchMapsDeadlineToTimeout(t *testing.T) {
	exec := &fakeExecutor{block: true}
	f := fetch.New(config.Fetch{}, fetch.WithExecutor(exec))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, newRequest(t))
	if services.KindOf(err) != services.KindTimeout {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestFetchPropagatesCancellation(t *testing.T) {
	exec := &fakeExecutor{block: true}
	f := fetch.New(config.Fetch{}, fetch.WithExecutor(exec))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, newRequest(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchFailsWhenNoOutputProduced(t *testing.T) {
	f := fetch.New(config.Fetch{}, fetch.WithExecutor(&fakeExecutor{}))
	_, err := f.Fetch(context.Background(), newRequest(t))
	if services.KindOf(err) != services.KindTransientIO {
		t.Fatalf("expected transient_io, got %v", err)
	}
}

func TestFetchWaitsForLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	f := fetch.New(config.Fetch{}, fetch.WithExecutor(&fakeExecutor{}), fetch.WithLimiter(limiter))

	// First call consumes the burst token and fails on missing output.
	_, _ = f.Fetch(context.Background(), newRequest(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, newRequest(t))
	if services.KindOf(err) != services.KindRateLimited && services.KindOf(err) != services.KindTimeout {
		t.Fatalf("expected limiter to block the second request, got %v", err)
	}
}

func TestNewLimiterDisabledWhenRateNotPositive(t *testing.T) {
	limiter := fetch.NewLimiter(0, 0)
	if limiter.Limit() != rate.Inf {
		t.Fatalf("expected unlimited limiter, got %v", limiter.Limit())
	}
}
