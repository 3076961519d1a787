package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tonearm/internal/api"
	"tonearm/internal/apikeys"
	"tonearm/internal/config"
	"tonearm/internal/deps"
	"tonearm/internal/gateway"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/queue"
	"tonearm/internal/workflow"
)

// FileServer streams locally published artifacts for signed tokens.
type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, token string)
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	service  *api.Service
	gateway  *gateway.Gateway
	keys     *apikeys.Store
	files    FileServer
	issuer   api.URLIssuer
	notifier notifications.Service
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	cleanupInterval time.Duration

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	Dependencies []deps.Status
}

// Option configures optional Daemon collaborators.
type Option func(*Daemon)

// WithFileServer serves /files/{token} downloads, used with local storage.
func WithFileServer(files FileServer) Option {
	return func(d *Daemon) { d.files = files }
}

// WithURLIssuer lets status lookups re-sign expired retrieval URLs.
func WithURLIssuer(issuer api.URLIssuer) Option {
	return func(d *Daemon) { d.issuer = issuer }
}

// WithNotifier replaces the notification service built from configuration.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithCleanupInterval overrides how often stale staging directories are removed.
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.cleanupInterval = interval
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:             cfg,
		logger:          logger,
		store:           store,
		workflow:        wf,
		keys:            apikeys.NewStore(store.DB(), cfg.KeyValidity()),
		notifier:        notifications.NewService(cfg),
		lockPath:        cfg.LockPath(),
		lock:            flock.New(cfg.LockPath()),
		cleanupInterval: time.Hour,
	}
	for _, opt := range opts {
		opt(d)
	}

	serviceOpts := []api.Option{
		api.WithWaker(wf),
		api.WithStatusBase(cfg.Storage.PublicBaseURL),
	}
	if d.issuer != nil {
		serviceOpts = append(serviceOpts, api.WithURLRefresh(d.issuer, cfg.URLTTL()))
	}
	d.service = api.NewService(store, serviceOpts...)

	gatewayOpts := []gateway.Option{
		gateway.WithToken(cfg.Paths.APIToken),
		gateway.WithLogger(logger),
	}
	if cfg.APIKeys.Required {
		gatewayOpts = append(gatewayOpts, gateway.WithKeys(d.keys))
	}
	d.gateway = gateway.New(d.service, gatewayOpts...)

	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start launches the workflow manager and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tonearm daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCleanup(d.ctx)
	}()

	d.running.Store(true)
	d.logger.Info("tonearm daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "next daemon start may report a running instance"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("tonearm daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress returns the address the HTTP API listens on, or "" when the
// API is disabled or not started.
func (d *Daemon) APIAddress() string {
	return d.server.address()
}

// Service exposes the core job service.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// Keys exposes API key administration.
func (d *Daemon) Keys() *apikeys.Store {
	return d.keys
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		Dependencies: deps.Check(d.cfg),
	}
}
