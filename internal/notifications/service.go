package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"packetwatch/internal/config"
)

const userAgent = "packetwatch/0.1.0"

// Event identifies the packet lifecycle moments that can raise a notification.
type Event string

const (
	EventIncidentRecorded Event = "incident_recorded"
	EventPacketDelivered  Event = "packet_delivered"
	EventPacketStalled    Event = "packet_stalled"
	EventTest             Event = "test"
)

// Payload carries the per-event fields referenced by message templates.
type Payload map[string]string

// Service is the notification surface exposed to workflow components.
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

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.compose(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) compose(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventIncidentRecorded:
		body := fmt.Sprintf("Incident %s on packet %s: %s", get("code"), get("packetId"), get("message"))
		if stageName := get("stage"); stageName != "" {
			body += fmt.Sprintf(" (stage: %s)", stageName)
		}
		msg := message{
			title: "Packetwatch - Incident",
			body:  body,
			tags:  []string{"packetwatch", "incident", get("severity")},
		}
		if get("severity") == "critical" {
			msg.priority = "high"
		}
		return msg, true
	case EventPacketDelivered:
		return message{
			title: "Packetwatch - Delivered",
			body:  fmt.Sprintf("Packet %s delivered", get("packetId")),
			tags:  []string{"packetwatch", "delivery", "completed"},
		}, true
	case EventPacketStalled:
		return message{
			title:    "Packetwatch - Stalled",
			body:     fmt.Sprintf("Packet %s has not moved since %s", get("packetId"), get("lastUpdate")),
			tags:     []string{"packetwatch", "stalled", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Packetwatch - Test",
			body:     "Notification system test",
			tags:     []string{"packetwatch", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
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
