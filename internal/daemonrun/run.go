package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tonearm/internal/config"
	"tonearm/internal/daemon"
	"tonearm/internal/deps"
	"tonearm/internal/fetch"
	"tonearm/internal/logging"
	"tonearm/internal/publish"
	"tonearm/internal/queue"
	"tonearm/internal/resultcache"
	"tonearm/internal/transcode"
	"tonearm/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the tonearm daemon and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.DataDir, "tonearm.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	publisher, err := publish.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}

	cache, closeCache, err := buildCache(signalCtx, cfg)
	if err != nil {
		return fmt.Errorf("init result cache: %w", err)
	}
	defer closeCache()

	stages := workflow.Stages{
		Fetcher:    fetch.New(cfg.Fetch, fetch.WithLogger(logger)),
		Transcoder: transcode.New(cfg.Transcode, transcode.WithLogger(logger)),
		Publisher:  publisher,
	}
	manager, err := workflow.NewManager(cfg, store, stages, logger, workflow.WithCache(cache))
	if err != nil {
		return fmt.Errorf("create workflow manager: %w", err)
	}

	daemonOpts := []daemon.Option{daemon.WithURLIssuer(publisher)}
	if local, ok := publisher.(*publish.Local); ok {
		daemonOpts = append(daemonOpts, daemon.WithFileServer(local))
	}
	d, err := daemon.New(cfg, store, logger, manager, daemonOpts...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("tonearm daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	outputs := []string{"stdout"}
	errOutputs := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		logPath := filepath.Join(cfg.Paths.LogDir, "tonearm.log")
		outputs = append(outputs, logPath)
		errOutputs = append(errOutputs, logPath)
	}
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
		Development:      opts.Development,
	})
}

func buildCache(ctx context.Context, cfg *config.Config) (resultcache.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client, err := resultcache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix)
		if err != nil {
			return nil, func() {}, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return resultcache.NewMemory(), func() {}, nil
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("cache_backend", cfg.Cache.Backend),
		logging.Int("workers", cfg.Workers.Count),
	}
	for _, status := range deps.Check(cfg) {
		key := strings.ReplaceAll(strings.ToLower(status.Name), " ", "_") + "_available"
		attrs = append(attrs, logging.Bool(key, status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
