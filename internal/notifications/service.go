package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyUploadReceived(ctx context.Context, title string) error
	NotifyAssetPublished(ctx context.Context, title string, variants int) error
	NotifyAssetQuarantined(ctx context.Context, title string, reasons []string) error
	NotifyAssetFailed(ctx context.Context, title, stage, message string) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		uploads:  cfg.Notifications.Uploads,
		publish:  cfg.Notifications.Published,
		blocked:  cfg.Notifications.Quarantined,
		errors:   cfg.Notifications.Errors,
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
	uploads  bool
	publish  bool
	blocked  bool
	errors   bool
}

func (n *ntfyService) NotifyUploadReceived(ctx context.Context, title string) error {
	if !n.uploads {
		return nil
	}
	data := payload{
		title:   "Loom - Upload Received",
		message: fmt.Sprintf("Upload received: %s", strings.TrimSpace(title)),
		tags:    []string{"loom", "upload", "received"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAssetPublished(ctx context.Context, title string, variants int) error {
	if !n.publish {
		return nil
	}
	data := payload{
		title:    "Loom - Published",
		message:  fmt.Sprintf("Ready to watch: %s (%d renditions)", strings.TrimSpace(title), variants),
		tags:     []string{"loom", "pipeline", "published"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAssetQuarantined(ctx context.Context, title string, reasons []string) error {
	if !n.blocked {
		return nil
	}
	message := fmt.Sprintf("Quarantined: %s", strings.TrimSpace(title))
	if len(reasons) > 0 {
		message = fmt.Sprintf("%s\nReasons: %s", message, strings.Join(reasons, ", "))
	}
	data := payload{
		title:    "Loom - Quarantined",
		message:  message,
		tags:     []string{"loom", "quarantine", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAssetFailed(ctx context.Context, title, stage, message string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Failed: ")
	builder.WriteString(strings.TrimSpace(title))
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" at ")
		builder.WriteString(stage)
	}
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(": ")
		builder.WriteString(message)
	}
	data := payload{
		title:    "Loom - Error",
		message:  builder.String(),
		tags:     []string{"loom", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loom - Test",
		message:  "Notification system test",
		tags:     []string{"loom", "test"},
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

func (noopService) NotifyUploadReceived(context.Context, string) error              { return nil }
func (noopService) NotifyAssetPublished(context.Context, string, int) error         { return nil }
func (noopService) NotifyAssetQuarantined(context.Context, string, []string) error  { return nil }
func (noopService) NotifyAssetFailed(context.Context, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
