package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/queue"
	"tonearm/internal/resultcache"
	"tonearm/internal/retry"
	"tonearm/internal/staging"
)

// Manager coordinates job processing across a fixed pool of workers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	stages   Stages
	logger   *slog.Logger
	notifier notifications.Service
	cache    *resultcache.Advisory
	policy   retry.Policy
	scratch  *staging.Scratch
	work     *staging.Workspace
	now      func() time.Time

	workers      int
	pollInterval time.Duration
	stageTimeout time.Duration
	urlTTL       time.Duration
	cacheTTL     time.Duration
	heartbeat    *HeartbeatMonitor
	instance     string
	wake         chan struct{}

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	busy     map[string]string
	lastErr  error
	lastJob  *queue.Job
	inFlight int
	peak     int

	queueActive bool
	queueStart  time.Time
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier replaces the notification service built from configuration.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithCache sets the result cache backend. Without one every job runs the
// full pipeline.
func WithCache(cache resultcache.Cache) Option {
	return func(m *Manager) {
		m.cache = resultcache.NewAdvisory(cache, m.logger)
	}
}

// WithPolicy overrides the retry policy derived from configuration.
func WithPolicy(policy retry.Policy) Option {
	return func(m *Manager) {
		m.policy = policy
	}
}

// WithPollInterval overrides how long the dispatcher idles when no job is due.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithStageTimeout overrides the wall-clock limit of a single stage call.
func WithStageTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.stageTimeout = timeout
		}
	}
}

// WithClock replaces the time source used for scheduling decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager. It returns an error when a stage
// executor is missing.
func NewManager(cfg *config.Config, store *queue.Store, stages Stages, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		store:    store,
		stages:   stages,
		logger:   logger,
		notifier: notifications.NewService(cfg),
		cache:    resultcache.NewAdvisory(nil, logger),
		policy: retry.NewPolicy(
			cfg.Retry.MaxAttempts,
			time.Duration(cfg.Retry.BaseDelaySeconds)*time.Second,
			time.Duration(cfg.Retry.MaxDelaySeconds)*time.Second,
			cfg.Retry.Jitter,
		),
		scratch:      staging.NewScratch(cfg.Paths.ScratchDir, uint64(cfg.Workers.MinScratchFreeMiB)*1024*1024),
		work:         staging.NewWorkspace(cfg.Paths.WorkspaceDir),
		now:          time.Now,
		workers:      cfg.Workers.Count,
		pollInterval: time.Duration(cfg.Workers.QueuePollInterval) * time.Second,
		stageTimeout: cfg.StageTimeout(),
		urlTTL:       cfg.URLTTL(),
		cacheTTL:     cfg.CacheTTL(),
		instance:     newInstanceID(),
		wake:         make(chan struct{}, 1),
		busy:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Second
	}
	m.heartbeat = NewHeartbeatMonitor(
		store,
		logging.NewComponentLogger(logger, "workflow-heartbeat"),
		time.Duration(cfg.Workers.HeartbeatInterval)*time.Second,
		time.Duration(cfg.Workers.HeartbeatTimeout)*time.Second,
		m.now,
	)
	return m, nil
}

// Wake asks the dispatcher to look for due jobs without waiting for the next
// poll. It never blocks.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) workerID(index int) string {
	return fmt.Sprintf("%s/worker-%d", m.instance, index)
}

func errStageMissing(name string) error {
	return fmt.Errorf("workflow: %s stage not configured", name)
}

func newInstanceID() string {
	return "tonearm-" + uuid.NewString()[:8]
}
