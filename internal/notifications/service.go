package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postforge/internal/config"
)

const userAgent = "postforge/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyQuarantined(ctx context.Context, stage, key, reason string) error
	NotifyStageError(ctx context.Context, stage string, err error) error
	TestNotification(ctx context.Context) error
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
	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		quarantine: cfg.Notifications.Quarantine,
	}
}

// NewNoop returns a Service that drops every notification.
func NewNoop() Service { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	quarantine bool
}

func (n *ntfyService) NotifyQuarantined(ctx context.Context, stage, key, reason string) error {
	if !n.quarantine {
		return nil
	}
	data := payload{
		title:    "postforge - Item Quarantined",
		message:  fmt.Sprintf("Stage %s quarantined %s\nReason: %s", strings.TrimSpace(stage), strings.TrimSpace(key), strings.TrimSpace(reason)),
		tags:     []string{"postforge", "quarantine", strings.TrimSpace(stage)},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageError(ctx context.Context, stage string, err error) error {
	message := fmt.Sprintf("Stage %s pass failed", strings.TrimSpace(stage))
	if err != nil {
		message += "\nError: " + err.Error()
	}
	data := payload{
		title:   "postforge - Stage Error",
		message: message,
		tags:    []string{"postforge", "error", strings.TrimSpace(stage)},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "postforge - Test",
		message:  "Notification system test",
		tags:     []string{"postforge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifyQuarantined(context.Context, string, string, string) error { return nil }
func (noopService) NotifyStageError(context.Context, string, error) error           { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
