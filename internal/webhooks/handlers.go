package webhooks

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the configured subscriptions and their delivery status.
// Subscriptions are managed through configuration, not over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts/webhooks", h.ListWebhooks)
	r.GET("/alerts/webhooks/:webhookId", h.GetWebhook)
}

// ListWebhooks handles GET /alerts/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// GetWebhook handles GET /alerts/webhooks/:webhookId
func (h *Handler) GetWebhook(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("webhookId"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to get webhook",
		})
		return
	}

	c.JSON(http.StatusOK, sub)
}
