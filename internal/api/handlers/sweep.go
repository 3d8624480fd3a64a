package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davidramz/price-tracker/backend/internal/services"
)

type SweepHandler struct {
	worker *services.SweepWorker
}

func NewSweepHandler(worker *services.SweepWorker) *SweepHandler {
	return &SweepHandler{worker: worker}
}

// RunSweep triggers one sweep over the catalog. Individual item
// failures are reported inside the counters; only a run that could not
// start at all is a 500.
func (h *SweepHandler) RunSweep(c *gin.Context) {
	result, err := h.worker.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Price update completed",
		"results": result,
	})
}

// GetStatus returns the sweep worker state.
func (h *SweepHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}
