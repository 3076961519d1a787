package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tonearm/internal/audio"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/queue"
	"tonearm/internal/resultcache"
	"tonearm/internal/services"
	"tonearm/internal/stage"
	"tonearm/internal/testsupport"
	"tonearm/internal/workflow"
)

// stubPipeline implements every stage executor with scripted failures.
type stubPipeline struct {
	mu            sync.Mutex
	fetchErrs     []error
	transcodeErrs []error
	publishErrs   []error
	blockFetch    bool
	hold          time.Duration
	calls         map[string]int
	active        int
	peak          int
	stored        map[string]string
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{calls: make(map[string]int), stored: make(map[string]string)}
}

func (p *stubPipeline) enter(name string, script *[]error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	if len(*script) == 0 {
		return nil
	}
	err := (*script)[0]
	*script = (*script)[1:]
	return err
}

func (p *stubPipeline) leave() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *stubPipeline) callCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *stubPipeline) peakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func (p *stubPipeline) Fetch(ctx context.Context, req stage.Request) (stage.Artifact, error) {
	defer p.leave()
	if err := p.enter("fetch", &p.fetchErrs); err != nil {
		return stage.Artifact{}, err
	}
	if p.blockFetch {
		<-ctx.Done()
		return stage.Artifact{}, ctx.Err()
	}
	if p.hold > 0 {
		time.Sleep(p.hold)
	}
	req.Report(50, "downloading")
	path := filepath.Join(req.ScratchDir, req.SourceID+".webm")
	if err := os.WriteFile(path, []byte("raw:"+req.SourceID), 0o644); err != nil {
		return stage.Artifact{}, err
	}
	return stage.Artifact{Path: path}, nil
}

func (p *stubPipeline) Transcode(_ context.Context, req stage.Request) (stage.Artifact, error) {
	defer p.leave()
	if err := p.enter("transcode", &p.transcodeErrs); err != nil {
		return stage.Artifact{}, err
	}
	raw, err := os.ReadFile(req.InputPath)
	if err != nil {
		return stage.Artifact{}, err
	}
	path := filepath.Join(req.ScratchDir, req.SourceID+"."+req.Format.Extension())
	if err := os.WriteFile(path, append([]byte("encoded:"), raw...), 0o644); err != nil {
		return stage.Artifact{}, err
	}
	return stage.Artifact{Path: path}, nil
}

func (p *stubPipeline) Store(_ context.Context, obj stage.Object) (string, error) {
	defer p.leave()
	if err := p.enter("publish", &p.publishErrs); err != nil {
		return "", err
	}
	data, err := os.ReadFile(obj.Path)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.stored[obj.Key] = string(data)
	p.mu.Unlock()
	return obj.Key, nil
}

func (p *stubPipeline) IssueURL(_ context.Context, location string, ttl time.Duration) (string, time.Time, error) {
	p.mu.Lock()
	_, ok := p.stored[location]
	p.mu.Unlock()
	if !ok {
		return "", time.Time{}, services.Wrap(services.ErrNotFound, "publish", "issue url", "missing "+location, nil)
	}
	return "https://files.test/" + location, time.Now().Add(ttl), nil
}

func (p *stubPipeline) stages() workflow.Stages {
	return workflow.Stages{Fetcher: p, Transcoder: p, Publisher: p}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

type harness struct {
	store    *queue.Store
	manager  *workflow.Manager
	pipeline *stubPipeline
	notifier *recordingNotifier
	cache    *resultcache.Memory
	scratch  string
	work     string
}

func newHarness(t *testing.T, workers int, pipeline *stubPipeline, opts ...workflow.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(workers), testsupport.WithRetry(3, 0, 0))
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &recordingNotifier{}
	cache := resultcache.NewMemory()

	all := append([]workflow.Option{
		workflow.WithNotifier(notifier),
		workflow.WithCache(cache),
		workflow.WithPollInterval(10 * time.Millisecond),
	}, opts...)
	mgr, err := workflow.NewManager(cfg, store, pipeline.stages(), logging.NewNop(), all...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &harness{
		store:    store,
		manager:  mgr,
		pipeline: pipeline,
		notifier: notifier,
		cache:    cache,
		scratch:  cfg.Paths.ScratchDir,
		work:     cfg.Paths.WorkspaceDir,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) waitTerminal(t *testing.T, id string) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := h.store.Get(context.Background(), id)
	t.Fatalf("job %s did not finish; last status %s", id, job.Status)
	return nil
}

func (h *harness) enqueue(t *testing.T, videoID string) *queue.Job {
	t.Helper()
	return h.enqueueFormat(t, videoID, audio.MP3)
}

func (h *harness) enqueueFormat(t *testing.T, videoID string, format audio.Format) *queue.Job {
	t.Helper()
	job := testsupport.NewJob(t, h.store, videoID, format)
	h.manager.Wake()
	return job
}

func statusPath(t *testing.T, store *queue.Store, id string) []queue.Status {
	t.Helper()
	history, err := store.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	path := make([]queue.Status, 0, len(history))
	for _, record := range history {
		path = append(path, record.To)
	}
	return path
}

func videoID(i int) string {
	return fmt.Sprintf("vid%08d", i)
}
