package handlers

import (
	"net/http"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminHandler exposes operational triggers.
type AdminHandler struct {
	Scheduler *services.SweepScheduler
	Log       zerolog.Logger
}

// Sweep runs one maturity sweep now, outside the regular schedule.
func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.Scheduler.RunOnce(c.Request.Context())
	if err != nil {
		handleError(c, h.Log, "sweep", err)
		return
	}

	c.JSON(http.StatusOK, dto.SweepResponse{
		Scheduled:  res.Scheduled,
		Dispatched: res.Dispatched,
		Skipped:    res.Skipped,
	})
}
