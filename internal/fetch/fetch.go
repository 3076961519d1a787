package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/proc"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

const stageName = "fetch"

var progressRe = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\S+)`)

// Option configures the fetcher.
type Option func(*Fetcher)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec proc.Executor) Option {
	return func(f *Fetcher) {
		if exec != nil {
			f.exec = exec
		}
	}
}

// WithLogger sets the logger used for download diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithLimiter replaces the request pacing limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(f *Fetcher) {
		if limiter != nil {
			f.limiter = limiter
		}
	}
}

// Fetcher wraps yt-dlp invocations.
type Fetcher struct {
	binary    string
	extraArgs []string
	limiter   *rate.Limiter
	exec      proc.Executor
	logger    *slog.Logger
}

// New constructs a fetcher from configuration.
func New(cfg config.Fetch, opts ...Option) *Fetcher {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	f := &Fetcher{
		binary:    binary,
		extraArgs: append([]string(nil), cfg.ExtraArgs...),
		limiter:   NewLimiter(cfg.RequestsPerMinute, cfg.Burst),
		exec:      proc.CommandExecutor{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewLimiter builds the request pacing limiter. A non-positive rate disables pacing.
func NewLimiter(requestsPerMinute, burst int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// Fetch downloads the best available audio stream into the request scratch dir.
func (f *Fetcher) Fetch(ctx context.Context, req stage.Request) (stage.Artifact, error) {
	if strings.TrimSpace(req.ScratchDir) == "" {
		return stage.Artifact{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "scratch directory required", nil)
	}
	if strings.TrimSpace(req.SourceURL) == "" || strings.TrimSpace(req.SourceID) == "" {
		return stage.Artifact{}, services.Wrap(services.ErrMalformedInput, stageName, "prepare", "source url and id required", nil)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return stage.Artifact{}, contextFailure(ctx, "wait for request slot")
		}
		return stage.Artifact{}, services.Wrap(services.ErrRateLimited, stageName, "wait for request slot", "request pacing unavailable", err)
	}

	args := f.buildArgs(req)
	logger := logging.WithContext(ctx, f.logger)
	logger.Debug("yt-dlp starting",
		logging.String(logging.FieldSourceID, req.SourceID),
		logging.String("binary", f.binary),
	)

	var lastError string
	runErr := f.exec.Run(ctx, f.binary, args, func(line proc.Line) {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "ERROR:") {
			lastError = strings.TrimSpace(strings.TrimPrefix(text, "ERROR:"))
			return
		}
		if percent, ok := parseProgress(text); ok {
			req.Report(percent, fmt.Sprintf("Downloading %.0f%%", percent))
		}
	})
	if runErr != nil {
		return stage.Artifact{}, classify(ctx, runErr, lastError)
	}

	path, size, err := locateOutput(req.ScratchDir, req.SourceID)
	if err != nil {
		return stage.Artifact{}, err
	}
	req.Report(100, "Download complete")
	logger.Debug("yt-dlp finished",
		logging.String(logging.FieldSourceID, req.SourceID),
		logging.String("path", path),
		logging.Int64("bytes", size),
	)
	return stage.Artifact{Path: path, Size: size}, nil
}

// HealthCheck reports whether the yt-dlp binary is available.
func (f *Fetcher) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(f.binary); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("%s not found in PATH", f.binary))
	}
	return stage.Healthy(stageName)
}

func (f *Fetcher) buildArgs(req stage.Request) []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--newline",
		"--progress",
		"-f", "bestaudio/best",
		"-o", filepath.Join(req.ScratchDir, req.SourceID+".%(ext)s"),
	}
	args = append(args, f.extraArgs...)
	return append(args, req.SourceURL)
}

func parseProgress(line string) (float64, bool) {
	matches := progressRe.FindStringSubmatch(line)
	if len(matches) < 2 {
		return 0, false
	}
	percent, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}

func locateOutput(dir, sourceID string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, services.Wrap(services.ErrTransientIO, stageName, "inspect output", "scratch directory unreadable", err)
	}
	var (
		bestPath string
		bestSize int64 = -1
	)
	prefix := sourceID + "."
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestPath = filepath.Join(dir, name)
			bestSize = info.Size()
		}
	}
	if bestPath == "" || bestSize <= 0 {
		return "", 0, services.Wrap(services.ErrTransientIO, stageName, "inspect output", "yt-dlp produced no output file", nil)
	}
	return bestPath, bestSize, nil
}

var (
	notFoundPatterns = []string{
		"video unavailable",
		"private video",
		"this video is not available",
		"has been removed",
		"does not exist",
		"unsupported url",
		"is not a valid url",
		"no video formats found",
		"requested format is not available",
		"http error 404",
	}
	rateLimitPatterns = []string{
		"http error 429",
		"too many requests",
		"rate-limit",
		"rate limit",
	}
	forbiddenPatterns = []string{
		"http error 403",
		"forbidden",
		"sign in to confirm",
	}
	timeoutPatterns = []string{
		"timed out",
		"timeout",
	}
)

func classify(ctx context.Context, runErr error, lastError string) error {
	if ctx.Err() != nil {
		return contextFailure(ctx, "download")
	}
	detail := lastError
	var exitErr *proc.ExitError
	if detail == "" && errors.As(runErr, &exitErr) {
		detail = exitErr.Stderr
	}
	lower := strings.ToLower(detail)
	marker := services.ErrTransientIO
	switch {
	case containsAny(lower, rateLimitPatterns):
		marker = services.ErrRateLimited
	case containsAny(lower, forbiddenPatterns):
		marker = services.ErrForbidden
	case containsAny(lower, notFoundPatterns):
		marker = services.ErrNotFound
	case containsAny(lower, timeoutPatterns):
		marker = services.ErrTimeout
	case errors.Is(runErr, exec.ErrNotFound):
		marker = services.ErrConfiguration
	}
	message := strings.TrimSpace(detail)
	if message == "" {
		message = "yt-dlp failed"
	}
	return services.Wrap(marker, stageName, "download", message, runErr)
}

func contextFailure(ctx context.Context, operation string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, operation, "stage deadline exceeded", ctx.Err())
	}
	return ctx.Err()
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
