package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davidramz/price-tracker/backend/internal/services"
)

type AlertHandler struct {
	dispatcher *services.Dispatcher
}

func NewAlertHandler(dispatcher *services.Dispatcher) *AlertHandler {
	return &AlertHandler{dispatcher: dispatcher}
}

// DispatchAlerts sends pending alert notifications. Per-alert delivery
// failures are counted, never a 500.
func (h *AlertHandler) DispatchAlerts(c *gin.Context) {
	summary, err := h.dispatcher.DispatchPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Price alerts processed",
		"results": summary,
	})
}
