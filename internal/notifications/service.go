package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shelver/internal/config"
)

const userAgent = "shelver/0.1"

// Event names a notification-worthy occurrence.
type Event string

const (
	EventClassified     Event = "classified"
	EventRouteFailed    Event = "route_failed"
	EventTaskFailed     Event = "task_failed"
	EventBatchPaused    Event = "batch_paused"
	EventBatchCompleted Event = "batch_completed"
	EventTest           Event = "test"
)

// Payload carries event fields. Values are rendered with fmt.Sprint.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	topic := strings.TrimSpace(n.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventClassified:     n.Classification,
			EventRouteFailed:    n.RouteFailures,
			EventTaskFailed:     n.TaskFailures,
			EventBatchPaused:    n.Batches,
			EventBatchCompleted: n.Batches,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, p Payload) (message, bool) {
	switch event {
	case EventClassified:
		body := fmt.Sprintf("%s → %s (%s%%, %s)", p.str("title"), orUnassigned(p.str("library")), p.str("confidence"), p.str("method"))
		return message{title: "Shelver - Classified", body: body, tags: []string{"shelver", "classified", p.str("mediaType")}}, true
	case EventRouteFailed:
		body := fmt.Sprintf("Routing %s to %s failed: %s", p.str("title"), p.str("library"), p.str("error"))
		return message{title: "Shelver - Routing Failed", body: body, tags: []string{"shelver", "route", "warning"}}, true
	case EventTaskFailed:
		body := fmt.Sprintf("Task %s (%s) failed after %s attempts: %s", p.str("taskID"), p.str("taskType"), p.str("attempts"), p.str("error"))
		return message{title: "Shelver - Task Failed", body: body, tags: []string{"shelver", "error", "alert"}, priority: "high"}, true
	case EventBatchPaused:
		body := fmt.Sprintf("Batch %s paused at item %s: %s", p.str("batchID"), p.str("item"), p.str("error"))
		return message{title: "Shelver - Batch Paused", body: body, tags: []string{"shelver", "batch", "paused"}, priority: "high"}, true
	case EventBatchCompleted:
		body := fmt.Sprintf("Batch %s complete: %s moved, %s failed, %s skipped", p.str("batchID"), p.str("completed"), p.str("failed"), p.str("skipped"))
		return message{title: "Shelver - Batch Complete", body: body, tags: []string{"shelver", "batch", "completed"}}, true
	case EventTest:
		return message{title: "Shelver - Test", body: "Notification system test", tags: []string{"shelver", "test"}, priority: "low"}, true
	default:
		return message{}, false
	}
}

func orUnassigned(name string) string {
	if name == "" {
		return "unassigned"
	}
	return name
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	tags := make([]string, 0, len(msg.tags))
	for _, tag := range msg.tags {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
