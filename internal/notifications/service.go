package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tonearm/internal/config"
)

const userAgent = "Tonearm-Go/0.1.0"

// Event names a notification the workflow can emit.
type Event string

const (
	EventJobSucceeded   Event = "job_succeeded"
	EventJobFailed      Event = "job_failed"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventTest           Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		succeeded:   cfg.Notifications.Succeeded,
		failed:      cfg.Notifications.Failed,
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		recent:      make(map[string]time.Time),
		now:         time.Now,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	succeeded   bool
	failed      bool
	dedupWindow time.Duration
	now         func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil {
		return nil
	}
	if !n.enabled(event) {
		return nil
	}
	msg, ok := buildPayload(event, data)
	if !ok {
		return nil
	}
	if n.isDuplicate(event, data) {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventJobSucceeded:
		return n.succeeded
	case EventJobFailed:
		return n.failed
	default:
		return true
	}
}

// isDuplicate reports whether the same event for the same source was sent
// within the dedup window.
func (n *ntfyService) isDuplicate(event Event, data Payload) bool {
	if n.dedupWindow <= 0 {
		return false
	}
	key := dedupKey(event, data)
	if key == "" {
		return false
	}
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, at := range n.recent {
		if now.Sub(at) > n.dedupWindow {
			delete(n.recent, k)
		}
	}
	if at, ok := n.recent[key]; ok && now.Sub(at) <= n.dedupWindow {
		return true
	}
	n.recent[key] = now
	return false
}

func dedupKey(event Event, data Payload) string {
	switch event {
	case EventJobSucceeded, EventJobFailed:
		source := payloadString(data, "sourceID")
		if source == "" {
			return ""
		}
		return string(event) + "|" + source + "|" + payloadString(data, "format") + "|" + payloadString(data, "errorClass")
	default:
		return ""
	}
}

func buildPayload(event Event, data Payload) (payload, bool) {
	switch event {
	case EventJobSucceeded:
		source := payloadString(data, "sourceID")
		format := payloadString(data, "format")
		message := fmt.Sprintf("✅ Converted: %s", source)
		if format != "" {
			message = fmt.Sprintf("%s (%s)", message, format)
		}
		if payloadBool(data, "cacheHit") {
			message += " [cached]"
		}
		return payload{
			title:   "Tonearm - Converted",
			message: message,
			tags:    []string{"tonearm", "job", "succeeded"},
		}, true
	case EventJobFailed:
		source := payloadString(data, "sourceID")
		class := payloadString(data, "errorClass")
		reason := payloadString(data, "error")
		if reason == "" {
			reason = "unknown"
		}
		var builder strings.Builder
		builder.WriteString("❌ Conversion failed")
		if source != "" {
			builder.WriteString(" for ")
			builder.WriteString(source)
		}
		if class != "" {
			builder.WriteString(" [")
			builder.WriteString(class)
			builder.WriteString("]")
		}
		builder.WriteString(": ")
		builder.WriteString(reason)
		return payload{
			title:    "Tonearm - Failed",
			message:  builder.String(),
			tags:     []string{"tonearm", "job", "failed"},
			priority: "high",
		}, true
	case EventQueueStarted:
		return payload{
			title:   "Tonearm - Queue Started",
			message: fmt.Sprintf("Started processing queue with %d jobs", payloadInt(data, "count")),
			tags:    []string{"tonearm", "queue", "started"},
		}, true
	case EventQueueCompleted:
		duration := payloadDuration(data, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		processed := payloadInt(data, "processed")
		failed := payloadInt(data, "failed")
		title := "Tonearm - Queue Complete"
		message := fmt.Sprintf("Queue drained: %d jobs converted in %s", processed, duration)
		if failed > 0 {
			title = "Tonearm - Queue Complete (with errors)"
			message = fmt.Sprintf("Queue drained: %d converted, %d failed in %s", processed, failed, duration)
		}
		return payload{
			title:   title,
			message: message,
			tags:    []string{"tonearm", "queue", "completed"},
		}, true
	case EventTest:
		return payload{
			title:    "Tonearm - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"tonearm", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(data Payload, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func payloadBool(data Payload, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func payloadDuration(data Payload, key string) time.Duration {
	v, _ := data[key].(time.Duration)
	return v
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
