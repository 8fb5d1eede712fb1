// Package notify pushes operator alerts for blocked batches and canary
// rollbacks. Delivery is fire-and-forget: a failed notification is
// logged and dropped, never propagated into evaluation or rollout
// logic.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// EventType classifies a notification.
type EventType string

const (
	// EventBatchBlocked fires when an evaluation blocks an entire
	// batch.
	EventBatchBlocked EventType = "batch_blocked"

	// EventRolledBack fires when the canary controller rolls a policy
	// back.
	EventRolledBack EventType = "rolled_back"

	// EventPromoted fires when a canary rollout promotes.
	EventPromoted EventType = "promoted"
)

// Event is one notification.
type Event struct {
	Type    EventType         `json:"type"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Notifier delivers events. Implementations must not block callers
// beyond a short delivery attempt and must never return delivery
// failures to them.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	args := []any{"type", event.Type, "message", event.Message}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}
	n.logger.Warn("notification", args...)
}

// WebhookNotifier POSTs events as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.Default().With("component", "notify.webhook"),
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("encoding notification", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("building notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed", "url", n.url, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected", "url", n.url, "status", resp.StatusCode)
	}
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
