package models

import "time"

// Webhook event types emitted by the service
const (
	EventProductCreated     = "product.created"
	EventProductUpdated     = "product.updated"
	EventProductDeleted     = "product.deleted"
	EventProductBulkDeleted = "product.bulk_deleted"

	EventImportCompleted           = "import.completed"
	EventImportCompletedWithErrors = "import.completed_with_errors"
	EventImportFailed              = "import.failed"
	EventImportCancelled           = "import.cancelled"
)

// Webhook is an outbound notification registration. When Secret is set,
// deliveries carry an HMAC-SHA256 signature header.
type Webhook struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	URL       string    `json:"url" gorm:"size:512;not null"`
	EventType string    `json:"event_type" gorm:"size:100;not null;index:ix_webhooks_event_type_enabled"`
	Enabled   bool      `json:"enabled" gorm:"not null;default:true;index:ix_webhooks_event_type_enabled"`
	Secret    *string   `json:"-" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookView is the client-facing representation; the secret itself is
// never exposed, only whether one is set.
type WebhookView struct {
	ID        uint      `json:"id"`
	URL       string    `json:"url"`
	EventType string    `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	HasSecret bool      `json:"has_secret"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View builds the client-facing representation
func (w *Webhook) View() WebhookView {
	return WebhookView{
		ID:        w.ID,
		URL:       w.URL,
		EventType: w.EventType,
		Enabled:   w.Enabled,
		HasSecret: w.Secret != nil && *w.Secret != "",
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// CreateWebhookRequest is the payload for registering a webhook
type CreateWebhookRequest struct {
	URL       string  `json:"url" binding:"required"`
	EventType string  `json:"event_type" binding:"required"`
	Enabled   *bool   `json:"enabled"`
	Secret    *string `json:"secret"`
}

// UpdateWebhookRequest is the payload for updating a webhook; nil fields are
// left unchanged
type UpdateWebhookRequest struct {
	URL       *string `json:"url"`
	EventType *string `json:"event_type"`
	Enabled   *bool   `json:"enabled"`
	Secret    *string `json:"secret"`
}
