package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

const deliveryHistory = 50

type WebhookHandler struct {
	db     *gorm.DB
	sender WebhookSender
}

// GetWebhooks lists configured webhooks (admin only)
func (h *WebhookHandler) GetWebhooks(c *gin.Context) {
	hooks := []models.Webhook{}
	if err := h.db.Order("id asc").Find(&hooks).Error; err != nil {
		serverError(c, "Failed to fetch webhooks", err)
		return
	}
	c.JSON(http.StatusOK, hooks)
}

// CreateWebhook registers an endpoint. The signing secret is only returned
// here.
func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	admin := currentUser(c)

	var input struct {
		URL    string   `json:"url" binding:"required"`
		Events []string `json:"events"`
		Secret string   `json:"secret" binding:"omitempty,min=16,max=128"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validWebhookURL(input.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}
	events, ok := joinEvents(c, input.Events)
	if !ok {
		return
	}

	secret := input.Secret
	if secret == "" {
		var err error
		if secret, err = webhooks.NewSecret(); err != nil {
			serverError(c, "Failed to generate secret", err)
			return
		}
	}

	hook := models.Webhook{URL: input.URL, Secret: secret, Events: events, Active: true, CreatedBy: admin.ID}
	if err := h.db.Create(&hook).Error; err != nil {
		serverError(c, "Failed to create webhook", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"webhook": hook, "secret": secret})
}

// UpdateWebhook changes url, events or active state, optionally rotating
// the secret (admin only)
func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var input struct {
		URL          *string   `json:"url"`
		Events       *[]string `json:"events"`
		Active       *bool     `json:"active"`
		RotateSecret bool      `json:"rotate_secret"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var hook models.Webhook
	if err := h.db.First(&hook, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	updates := map[string]any{}
	if input.URL != nil {
		if !validWebhookURL(*input.URL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
			return
		}
		hook.URL = *input.URL
		updates["url"] = hook.URL
	}
	if input.Events != nil {
		events, ok := joinEvents(c, *input.Events)
		if !ok {
			return
		}
		hook.Events = events
		updates["events"] = events
	}
	if input.Active != nil {
		hook.Active = *input.Active
		updates["active"] = hook.Active
	}
	var rotated string
	if input.RotateSecret {
		var err error
		if rotated, err = webhooks.NewSecret(); err != nil {
			serverError(c, "Failed to generate secret", err)
			return
		}
		hook.Secret = rotated
		updates["secret"] = rotated
	}

	if len(updates) > 0 {
		if err := h.db.Model(&models.Webhook{ID: hook.ID}).Updates(updates).Error; err != nil {
			serverError(c, "Failed to update webhook", err)
			return
		}
	}

	resp := gin.H{"webhook": hook}
	if rotated != "" {
		resp["secret"] = rotated
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteWebhook removes a webhook and its delivery log (admin only)
func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var deleted int64
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webhook_id = ?", id).Delete(&models.WebhookDelivery{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Webhook{}, id)
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		serverError(c, "Failed to delete webhook", err)
		return
	}
	if deleted == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted successfully"})
}

// TestWebhook sends a ping synchronously and returns the recorded attempt
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	if h.sender == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Webhooks are not available"})
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var hook models.Webhook
	if err := h.db.First(&hook, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	// a failed attempt is still reported through the delivery record
	delivery, _ := h.sender.Deliver(c.Request.Context(), hook, webhooks.EventPing, gin.H{
		"webhook_id": hook.ID,
		"message":    "ping",
	})
	c.JSON(http.StatusOK, delivery)
}

// GetDeliveries lists the most recent delivery attempts (admin only)
func (h *WebhookHandler) GetDeliveries(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var count int64
	if err := h.db.Model(&models.Webhook{}).Where("id = ?", id).Count(&count).Error; err != nil {
		serverError(c, "Failed to fetch webhook", err)
		return
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	deliveries := []models.WebhookDelivery{}
	if err := h.db.Where("webhook_id = ?", id).
		Order("created_at desc, id desc").
		Limit(deliveryHistory).
		Find(&deliveries).Error; err != nil {
		serverError(c, "Failed to fetch deliveries", err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// joinEvents validates subscribed event names. An empty list or "*" means
// every event.
func joinEvents(c *gin.Context, events []string) (string, bool) {
	var out []string
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "*" {
			return "*", true
		}
		if !webhooks.KnownEvent(e) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event: " + e})
			return "", false
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return "*", true
	}
	return strings.Join(out, ","), true
}
