package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"catalog-service/internal/models"
)

type WebhooksRepository struct {
	db *gorm.DB
}

func NewWebhooksRepository(db *gorm.DB) *WebhooksRepository {
	return &WebhooksRepository{db: db}
}

func (r *WebhooksRepository) Create(ctx context.Context, hook *models.Webhook) error {
	hook.CreatedAt = time.Now()
	hook.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Create(hook).Error
}

func (r *WebhooksRepository) GetByID(ctx context.Context, id uint) (*models.Webhook, error) {
	var hook models.Webhook
	if err := r.db.WithContext(ctx).First(&hook, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &hook, nil
}

func (r *WebhooksRepository) List(ctx context.Context) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&hooks).Error; err != nil {
		return nil, err
	}
	return hooks, nil
}

// ListEnabledByEvent returns enabled registrations for one event type
func (r *WebhooksRepository) ListEnabledByEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := r.db.WithContext(ctx).
		Where("event_type = ? AND enabled = ?", eventType, true).
		Find(&hooks).Error; err != nil {
		return nil, err
	}
	return hooks, nil
}

func (r *WebhooksRepository) Update(ctx context.Context, id uint, req *models.UpdateWebhookRequest) (*models.Webhook, error) {
	hook, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.URL != nil {
		updates["url"] = *req.URL
	}
	if req.EventType != nil {
		updates["event_type"] = *req.EventType
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.Secret != nil {
		if *req.Secret == "" {
			updates["secret"] = nil
		} else {
			updates["secret"] = *req.Secret
		}
	}

	if err := r.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", hook.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *WebhooksRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Webhook{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
