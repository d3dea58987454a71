package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
)

const userAgent = "datadealer/0.1"

// Event identifies a run lifecycle milestone.
type Event string

const (
	EventRunCompleted Event = "run_completed"
	EventRunFailed    Event = "run_failed"
	EventRunCancelled Event = "run_cancelled"
	EventTest         Event = "test"
)

// Payload carries the values rendered into a notification message.
type Payload map[string]any

func (p Payload) text(key string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case time.Duration:
		return v.Round(time.Second).String()
	default:
		return fmt.Sprint(v)
	}
}

// Service publishes events to an external channel.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when the topic is empty.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func render(event Event, payload Payload) (message, bool) {
	runID := payload.text("run_id")
	switch event {
	case EventRunCompleted:
		body := fmt.Sprintf("✅ Run %s complete: %s segments, %s frames", runID, orZero(payload.text("segments")), orZero(payload.text("frames")))
		if output := payload.text("output"); output != "" {
			body += "\nOutput: " + output
		}
		if duration := payload.text("duration"); duration != "" {
			body += "\nDuration: " + duration
		}
		return message{
			title: "Datadealer - Run Complete",
			body:  body,
			tags:  []string{"datadealer", "run", "completed"},
		}, true
	case EventRunFailed:
		reason := payload.text("error")
		if reason == "" {
			reason = "unknown"
		}
		body := fmt.Sprintf("❌ Run %s failed: %s", runID, reason)
		if runID != "" {
			body += "\nResume with: datadealer cut --resume-run " + runID
		}
		return message{
			title:    "Datadealer - Run Failed",
			body:     body,
			tags:     []string{"datadealer", "run", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Datadealer - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"datadealer", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
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
