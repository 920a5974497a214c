package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"catalog-service/internal/models"
	"catalog-service/internal/notify"
	"catalog-service/internal/repository"
)

var knownEventTypes = map[string]bool{
	models.EventProductCreated:            true,
	models.EventProductUpdated:            true,
	models.EventProductDeleted:            true,
	models.EventProductBulkDeleted:        true,
	models.EventImportCompleted:           true,
	models.EventImportCompletedWithErrors: true,
	models.EventImportFailed:              true,
	models.EventImportCancelled:           true,
}

type WebhooksHandler struct {
	repo     *repository.WebhooksRepository
	notifier *notify.Notifier
	logger   *logrus.Entry
}

func NewWebhooksHandler(repo *repository.WebhooksRepository, notifier *notify.Notifier, logger *logrus.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		repo:     repo,
		notifier: notifier,
		logger:   logger.WithField("component", "webhooks-handler"),
	}
}

// CreateWebhook registers a new delivery endpoint.
// POST /api/v1/webhooks
func (h *WebhooksHandler) CreateWebhook(c *gin.Context) {
	var req models.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	if !validWebhookURL(req.URL) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "URL must be a valid http or https endpoint",
				Field:   "url",
			},
		})
		return
	}
	if !knownEventTypes[req.EventType] {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Unknown event type",
				Field:   "event_type",
			},
		})
		return
	}

	hook := &models.Webhook{
		URL:       req.URL,
		EventType: req.EventType,
		Enabled:   true,
	}
	if req.Enabled != nil {
		hook.Enabled = *req.Enabled
	}
	if req.Secret != nil && *req.Secret != "" {
		hook.Secret = req.Secret
	}

	if err := h.repo.Create(c.Request.Context(), hook); err != nil {
		h.logger.WithError(err).Error("Failed to create webhook")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "CREATE_FAILED",
				Message: "Failed to create webhook",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, hook.View())
}

// ListWebhooks returns every registered webhook.
// GET /api/v1/webhooks
func (h *WebhooksHandler) ListWebhooks(c *gin.Context) {
	hooks, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list webhooks")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "LIST_FAILED",
				Message: "Failed to list webhooks",
			},
		})
		return
	}

	views := make([]models.WebhookView, len(hooks))
	for i := range hooks {
		views[i] = hooks[i].View()
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "total": len(views)})
}

// GetWebhook returns one registration.
// GET /api/v1/webhooks/:id
func (h *WebhooksHandler) GetWebhook(c *gin.Context) {
	id, ok := h.webhookID(c)
	if !ok {
		return
	}

	hook, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, hook.View())
}

// UpdateWebhook partially updates a registration. Sending an empty secret
// clears it.
// PATCH /api/v1/webhooks/:id
func (h *WebhooksHandler) UpdateWebhook(c *gin.Context) {
	id, ok := h.webhookID(c)
	if !ok {
		return
	}

	var req models.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	if req.URL != nil && !validWebhookURL(*req.URL) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "URL must be a valid http or https endpoint",
				Field:   "url",
			},
		})
		return
	}
	if req.EventType != nil && !knownEventTypes[*req.EventType] {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Unknown event type",
				Field:   "event_type",
			},
		})
		return
	}

	hook, err := h.repo.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, hook.View())
}

// DeleteWebhook removes a registration.
// DELETE /api/v1/webhooks/:id
func (h *WebhooksHandler) DeleteWebhook(c *gin.Context) {
	id, ok := h.webhookID(c)
	if !ok {
		return
	}

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Webhook deleted"})
}

// TestWebhook posts a synthetic event to the endpoint synchronously, so
// the caller can see whether the endpoint is reachable and accepts the
// signature.
// POST /api/v1/webhooks/:id/test
func (h *WebhooksHandler) TestWebhook(c *gin.Context) {
	id, ok := h.webhookID(c)
	if !ok {
		return
	}

	hook, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}

	payload := gin.H{
		"test":       true,
		"webhook_id": hook.ID,
		"sent_at":    time.Now().UTC(),
	}
	if err := h.notifier.Send(c.Request.Context(), hook, hook.EventType, payload); err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "DELIVERY_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.MessageResponse{Message: "Test delivery succeeded"})
}

func (h *WebhooksHandler) webhookID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Webhook id must be a positive integer",
				Field:   "id",
			},
		})
		return 0, false
	}
	return uint(id), true
}

func (h *WebhooksHandler) respondLookupError(c *gin.Context, err error) {
	if repository.IsNotFound(err) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "WEBHOOK_NOT_FOUND",
				Message: "Webhook not found",
			},
		})
		return
	}
	h.logger.WithError(err).Error("Webhook operation failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    "INTERNAL_ERROR",
			Message: "Webhook operation failed",
		},
	})
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
