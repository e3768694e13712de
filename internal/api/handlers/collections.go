package handlers

import (
	"net/http"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CollectionHandler closes finished collections.
type CollectionHandler struct {
	Dispatcher *services.DispatchCoordinator
	Log        zerolog.Logger
}

func (h *CollectionHandler) Complete(c *gin.Context) {
	var req dto.CompleteCollectionRequest
	if !decodeJSON(c, &req) {
		return
	}

	groupID, err := parseID(req.GroupID, "group_id")
	if err != nil {
		handleError(c, h.Log, "complete collection", err)
		return
	}
	workerID, err := parseID(req.WorkerID, "worker_id")
	if err != nil {
		handleError(c, h.Log, "complete collection", err)
		return
	}

	if err := h.Dispatcher.CompleteCollection(c.Request.Context(), groupID, workerID); err != nil {
		handleError(c, h.Log, "complete collection", err)
		return
	}

	c.JSON(http.StatusOK, dto.CompleteCollectionResponse{
		GroupID: groupID,
		Status:  string(domain.GroupCollected),
	})
}
