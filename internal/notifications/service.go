package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelchain/internal/config"
)

const userAgent = "reelchain/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventStageReady     Event = "stage_ready"
	EventStageFailed    Event = "stage_failed"
	EventJobCompleted   Event = "job_completed"
	EventAssemblyFailed Event = "assembly_failed"
	EventJobFailed      Event = "job_failed"
	EventTest           Event = "test"
)

// Payload carries event fields; keys depend on the event.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	enabled := map[Event]bool{
		EventStageReady:     cfg.Notifications.StageReady,
		EventStageFailed:    cfg.Notifications.StageFailed,
		EventJobCompleted:   cfg.Notifications.JobCompleted,
		EventAssemblyFailed: cfg.Notifications.JobCompleted,
		EventJobFailed:      cfg.Notifications.StageFailed,
		EventTest:           true,
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled:  enabled,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	name := str(data, "jobName")
	switch event {
	case EventStageReady:
		return payload{
			title:   "reelchain - Stage Ready",
			message: fmt.Sprintf("🎞️ %s: stage %s of %s ready for review", name, str(data, "stage"), str(data, "planned")),
			tags:    []string{"reelchain", "stage", "review"},
		}, true
	case EventStageFailed:
		return payload{
			title:    "reelchain - Stage Failed",
			message:  fmt.Sprintf("⚠️ %s: stage %s failed: %s", name, str(data, "stage"), str(data, "error")),
			tags:     []string{"reelchain", "stage", "failed"},
			priority: "high",
		}, true
	case EventJobCompleted:
		message := fmt.Sprintf("✅ %s complete", name)
		if output := str(data, "output"); output != "" {
			message += "\nFile: " + output
		}
		if link := str(data, "url"); link != "" {
			message += "\nLink: " + link
		}
		return payload{
			title:    "reelchain - Complete",
			message:  message,
			tags:     []string{"reelchain", "job", "completed"},
			priority: "high",
		}, true
	case EventAssemblyFailed:
		return payload{
			title:    "reelchain - Assembly Failed",
			message:  fmt.Sprintf("❌ %s: all stages accepted but assembly failed: %s", name, str(data, "error")),
			tags:     []string{"reelchain", "assembly", "alert"},
			priority: "high",
		}, true
	case EventJobFailed:
		return payload{
			title:   "reelchain - Job Failed",
			message: fmt.Sprintf("🛑 %s stopped: %s", name, str(data, "reason")),
			tags:    []string{"reelchain", "job", "failed"},
		}, true
	case EventTest:
		return payload{
			title:    "reelchain - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"reelchain", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func str(data Payload, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
