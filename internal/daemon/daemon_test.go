package daemon_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tonearm/internal/api"
	"tonearm/internal/config"
	"tonearm/internal/daemon"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/publish"
	"tonearm/internal/queue"
	"tonearm/internal/stage"
	"tonearm/internal/testsupport"
	"tonearm/internal/workflow"
)

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, req stage.Request) (stage.Artifact, error) {
	path := filepath.Join(req.ScratchDir, req.SourceID+".webm")
	if err := os.WriteFile(path, []byte("raw audio"), 0o644); err != nil {
		return stage.Artifact{}, err
	}
	return stage.Artifact{Path: path, Size: 9}, nil
}

type fakeTranscoder struct{}

func (fakeTranscoder) Transcode(_ context.Context, req stage.Request) (stage.Artifact, error) {
	path := filepath.Join(req.ScratchDir, "out."+req.Format.Extension())
	if err := os.WriteFile(path, []byte("ID3 encoded"), 0o644); err != nil {
		return stage.Artifact{}, err
	}
	return stage.Artifact{Path: path, Size: 11, ContentType: req.Format.ContentType()}, nil
}

type fixture struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	base   string
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...daemon.Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "secret"
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	local, err := publish.NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL, cfg.Storage.SigningKey)
	if err != nil {
		t.Fatalf("publish.NewLocal: %v", err)
	}
	mgr, err := workflow.NewManager(cfg, store, workflow.Stages{
		Fetcher:    fakeFetcher{},
		Transcoder: fakeTranscoder{},
		Publisher:  local,
	}, logging.NewNop(), workflow.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("workflow.NewManager: %v", err)
	}
	opts = append([]daemon.Option{daemon.WithFileServer(local), daemon.WithURLIssuer(local)}, opts...)
	d, err := daemon.New(cfg, store, logging.NewNop(), mgr, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return &fixture{cfg: cfg, daemon: d, base: "http://" + d.APIAddress()}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.base+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	status := f.daemon.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != f.cfg.LockPath() {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}

	// Second start should fail
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestConvertRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/convert", map[string]string{
		"youtube_url": "https://youtu.be/dQw4w9WgXcQ",
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("convert status = %d", resp.StatusCode)
	}
	var handle api.JobHandle
	decode(t, resp, &handle)
	if handle.ID == "" || !strings.HasSuffix(handle.StatusURL, "/status/"+handle.ID) {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	var job api.JobView
	deadline := time.Now().Add(5 * time.Second)
	for {
		statusResp := f.do(t, http.MethodGet, "/status/"+handle.ID, nil, nil)
		var payload api.JobResponse
		decode(t, statusResp, &payload)
		job = payload.Job
		if job.Status == string(queue.StatusSucceeded) || job.Status == string(queue.StatusFailed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last status %q", job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Status != string(queue.StatusSucceeded) || job.Result == nil {
		t.Fatalf("job = %+v", job)
	}
	if job.Format != "mp3" {
		t.Fatalf("default format = %q, want mp3", job.Format)
	}

	path := strings.TrimPrefix(job.Result.URL, f.cfg.Storage.PublicBaseURL)
	fileResp := f.do(t, http.MethodGet, path, nil, nil)
	if fileResp.StatusCode != http.StatusOK {
		t.Fatalf("file status = %d", fileResp.StatusCode)
	}
	body, _ := io.ReadAll(fileResp.Body)
	if string(body) != "ID3 encoded" {
		t.Fatalf("file body = %q", body)
	}
}

func TestConvertRejections(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.APIKeys.Required = true })

	cases := []struct {
		name   string
		body   map[string]string
		header map[string]string
		want   int
	}{
		{"no key", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"}, nil, http.StatusUnauthorized},
		{"bad key", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"}, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := f.do(t, http.MethodPost, "/convert", tc.body, tc.header)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	key, err := f.daemon.Keys().Create(context.Background(), "test")
	if err != nil {
		t.Fatalf("Create key: %v", err)
	}
	auth := map[string]string{"X-API-Key": key.Key}
	if resp := f.do(t, http.MethodPost, "/convert", map[string]string{"url": "https://example.com/v"}, auth); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad url status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/convert", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ", "format": "ogg"}, auth); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/convert", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ", "format": "m4a"}, auth); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid submission status = %d", resp.StatusCode)
	}

	jobs, err := f.daemon.Service().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("rejected submissions created jobs: %d", len(jobs))
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/status/does-not-exist", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminKeyLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	if resp := f.do(t, http.MethodGet, "/admin/keys", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated admin status = %d", resp.StatusCode)
	}

	admin := map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret")),
	}

	resp := f.do(t, http.MethodPost, "/admin/keys", map[string]string{"label": "ci"}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct {
		Key       string `json:"key"`
		Label     string `json:"label"`
		ExpiresAt string `json:"expiresAt"`
	}
	decode(t, resp, &created)
	if created.Key == "" || created.Label != "ci" || created.ExpiresAt == "" {
		t.Fatalf("unexpected key: %+v", created)
	}

	listResp := f.do(t, http.MethodGet, "/admin/keys", nil, admin)
	var listed struct {
		Keys []struct {
			Key string `json:"key"`
		} `json:"keys"`
	}
	decode(t, listResp, &listed)
	if len(listed.Keys) != 1 || listed.Keys[0].Key != created.Key {
		t.Fatalf("listed = %+v", listed)
	}

	if resp := f.do(t, http.MethodDelete, "/admin/keys/"+created.Key, nil, admin); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, "/admin/keys/"+created.Key, nil, admin); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}
}

func TestJobsEndpointRequiresToken(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Paths.APIToken = "operator" })

	if resp := f.do(t, http.MethodGet, "/api/jobs", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, "/api/jobs?status=queued", nil, map[string]string{"Authorization": "Bearer operator"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/jobs?status=bogus", nil, map[string]string{"Authorization": "Bearer operator"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d", resp.StatusCode)
	}
}

func TestHealthReportsWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var payload api.DaemonStatus
	decode(t, resp, &payload)
	if !payload.Running || payload.Workflow.Workers != 2 {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
	if len(payload.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}
}

type recordingNotifier struct {
	events chan notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.events <- event
	return nil
}

func TestNotificationEndpoint(t *testing.T) {
	unconfigured := newFixture(t, nil)
	resp := unconfigured.do(t, http.MethodPost, "/api/notifications/test", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result struct {
		Sent bool `json:"sent"`
	}
	decode(t, resp, &result)
	if result.Sent {
		t.Fatal("expected nothing sent without a topic")
	}

	notifier := &recordingNotifier{events: make(chan notifications.Event, 4)}
	configured := newFixture(t, func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = "https://ntfy.invalid/tonearm"
	}, daemon.WithNotifier(notifier))
	resp = configured.do(t, http.MethodPost, "/api/notifications/test", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("configured status = %d", resp.StatusCode)
	}
	select {
	case event := <-notifier.events:
		if event != notifications.EventTest {
			t.Fatalf("event = %q", event)
		}
	case <-time.After(time.Second):
		t.Fatal("test notification not published")
	}
}

func TestSecondDaemonCannotStart(t *testing.T) {
	f := newFixture(t, nil)
	store := testsupport.MustOpenStore(t, f.cfg)
	cfg := *f.cfg
	cfg.Paths.APIBind = ""
	mgr, err := workflow.NewManager(&cfg, store, workflow.Stages{
		Fetcher: fakeFetcher{}, Transcoder: fakeTranscoder{}, Publisher: nopPublisher{},
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("workflow.NewManager: %v", err)
	}
	second, err := daemon.New(&cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected lock contention to fail start")
	}
}

type nopPublisher struct{}

func (nopPublisher) Store(context.Context, stage.Object) (string, error) { return "", nil }
func (nopPublisher) IssueURL(context.Context, string, time.Duration) (string, time.Time, error) {
	return "", time.Time{}, nil
}
