package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-service/internal/models"
)

// WebhookSource yields the endpoints subscribed to an event type.
type WebhookSource interface {
	ListEnabledByEvent(ctx context.Context, eventType string) ([]models.Webhook, error)
}

// Event is the envelope posted to subscribed endpoints.
type Event struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier fans events out to subscribed webhook endpoints over HTTP POST.
// Deliveries are fire-and-forget: a dead endpoint is logged and skipped,
// never retried, and never fails the operation that raised the event.
type Notifier struct {
	webhooks WebhookSource
	client   *http.Client
	logger   *logrus.Entry
}

func NewNotifier(webhooks WebhookSource, logger *logrus.Logger) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.WithField("component", "webhooks"),
	}
}

// Notify delivers the event to every enabled subscriber asynchronously.
func (n *Notifier) Notify(ctx context.Context, eventType string, payload interface{}) {
	hooks, err := n.webhooks.ListEnabledByEvent(ctx, eventType)
	if err != nil {
		n.logger.WithError(err).WithField("eventType", eventType).Error("Failed to list webhook subscribers")
		return
	}
	if len(hooks) == 0 {
		return
	}

	event := Event{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}

	for _, hook := range hooks {
		hook := hook
		go func() {
			// Deliveries outlive the request that raised the event.
			deliverCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := n.deliver(deliverCtx, &hook, event); err != nil {
				n.logger.WithError(err).WithFields(logrus.Fields{
					"webhookID": hook.ID,
					"url":       hook.URL,
					"eventType": eventType,
				}).Warn("Webhook delivery failed")
			}
		}()
	}
}

// Send posts a single event to one webhook synchronously. Used by the
// test-delivery endpoint so the caller sees the outcome.
func (n *Notifier) Send(ctx context.Context, hook *models.Webhook, eventType string, payload interface{}) error {
	return n.deliver(ctx, hook, Event{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
}

func (n *Notifier) deliver(ctx context.Context, hook *models.Webhook, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event.EventType)
	if hook.Secret != nil && *hook.Secret != "" {
		req.Header.Set("X-Signature", Signature(*hook.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Signature computes the delivery signature header value for a payload:
// an HMAC-SHA256 digest keyed by the webhook secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
