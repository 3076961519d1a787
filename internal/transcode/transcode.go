// Package transcode converts fetched streams into the published audio
// formats with ffmpeg, using fixed sample rate, channel and bitrate settings.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/proc"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

const stageName = "transcode"

// Option configures the transcoder.
type Option func(*Transcoder)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec proc.Executor) Option {
	return func(t *Transcoder) {
		if exec != nil {
			t.exec = exec
		}
	}
}

// WithLogger sets the logger used for encoder diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transcoder wraps ffmpeg and ffprobe invocations.
type Transcoder struct {
	ffmpeg  string
	ffprobe string
	exec    proc.Executor
	logger  *slog.Logger
}

// New constructs a transcoder from configuration.
func New(cfg config.Transcode, opts ...Option) *Transcoder {
	t := &Transcoder{
		ffmpeg:  strings.TrimSpace(cfg.FFmpegBinary),
		ffprobe: strings.TrimSpace(cfg.FFprobeBinary),
		exec:    proc.CommandExecutor{},
		logger:  logging.NewNop(),
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.ffprobe == "" {
		t.ffprobe = "ffprobe"
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode encodes req.InputPath into req.Format inside the scratch dir.
func (t *Transcoder) Transcode(ctx context.Context, req stage.Request) (stage.Artifact, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return stage.Artifact{}, services.Wrap(services.ErrMalformedInput, stageName, "prepare", "input path required", nil)
	}
	if !req.Format.Valid() {
		return stage.Artifact{}, services.Wrap(services.ErrMalformedInput, stageName, "prepare", fmt.Sprintf("unsupported format %q", req.Format), nil)
	}
	if strings.TrimSpace(req.ScratchDir) == "" {
		return stage.Artifact{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "scratch directory required", nil)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return stage.Artifact{}, services.Wrap(services.ErrTransientIO, stageName, "prepare", "input artifact missing", err)
	}

	logger := logging.WithContext(ctx, t.logger)
	duration, err := t.probeDuration(ctx, req.InputPath)
	if err != nil {
		if services.KindOf(err) == services.KindMalformedInput || ctx.Err() != nil {
			return stage.Artifact{}, err
		}
		logger.Debug("ffprobe duration unavailable; progress will not be reported", logging.Error(err))
	}

	outputPath := filepath.Join(req.ScratchDir, req.SourceID+"."+req.Format.Extension())
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", req.InputPath}
	args = append(args, req.Format.EncoderArgs()...)
	args = append(args, "-progress", "pipe:1", "-nostats", outputPath)

	var lastProgress float64
	runErr := t.exec.Run(ctx, t.ffmpeg, args, func(line proc.Line) {
		if line.Stderr {
			return
		}
		percent, ok := parseProgress(line.Text, duration)
		if !ok || percent-lastProgress < 1 {
			return
		}
		lastProgress = percent
		req.Report(percent, fmt.Sprintf("Encoding %.0f%%", percent))
	})
	if runErr != nil {
		return stage.Artifact{}, classify(ctx, "encode", runErr)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return stage.Artifact{}, services.Wrap(services.ErrTransientIO, stageName, "encode", "ffmpeg produced no output", err)
	}
	req.Report(100, "Encoding complete")
	return stage.Artifact{
		Path:        outputPath,
		Size:        info.Size(),
		ContentType: req.Format.ContentType(),
		Duration:    duration,
	}, nil
}

// HealthCheck reports whether ffmpeg and ffprobe are available.
func (t *Transcoder) HealthCheck(context.Context) stage.Health {
	for _, binary := range []string{t.ffmpeg, t.ffprobe} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy(stageName, fmt.Sprintf("%s not found in PATH", binary))
		}
	}
	return stage.Healthy(stageName)
}

func (t *Transcoder) probeDuration(ctx context.Context, input string) (time.Duration, error) {
	var output strings.Builder
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", input}
	err := t.exec.Run(ctx, t.ffprobe, args, func(line proc.Line) {
		if !line.Stderr {
			output.WriteString(strings.TrimSpace(line.Text))
		}
	})
	if err != nil {
		return 0, classify(ctx, "probe", err)
	}
	value := strings.TrimSpace(output.String())
	if value == "" || value == "N/A" {
		return 0, errors.New("empty duration")
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// parseProgress converts one line of `-progress pipe:1` output into percent of
// the input duration.
func parseProgress(line string, duration time.Duration) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports both keys in microseconds.
		if duration <= 0 {
			return 0, false
		}
		micros, err := strconv.ParseFloat(value, 64)
		if err != nil || micros < 0 {
			return 0, false
		}
		elapsed := time.Duration(micros) * time.Microsecond
		return math.Min(100, float64(elapsed)/float64(duration)*100), true
	case "progress":
		if value == "end" {
			return 100, true
		}
	}
	return 0, false
}

var malformedPatterns = []string{
	"invalid data found when processing input",
	"does not contain any stream",
	"could not find codec parameters",
	"moov atom not found",
	"invalid argument",
	"error while decoding",
	"no decoder",
}

func classify(ctx context.Context, operation string, runErr error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stageName, operation, "stage deadline exceeded", ctx.Err())
		}
		return ctx.Err()
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return services.Wrap(services.ErrConfiguration, stageName, operation, "encoder binary not found", runErr)
	}
	var exitErr *proc.ExitError
	detail := ""
	if errors.As(runErr, &exitErr) {
		detail = exitErr.Stderr
	}
	lower := strings.ToLower(detail)
	for _, pattern := range malformedPatterns {
		if strings.Contains(lower, pattern) {
			return services.Wrap(services.ErrMalformedInput, stageName, operation, lastLine(detail), runErr)
		}
	}
	message := lastLine(detail)
	if message == "" {
		message = "ffmpeg failed"
	}
	return services.Wrap(services.ErrTransientIO, stageName, operation, message, runErr)
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndex(text, "\n"); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
