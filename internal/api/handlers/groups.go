package handlers

import (
	"net/http"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"
	"waas-dispatch-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GroupHandler lists collection groups and dispatches them on demand.
type GroupHandler struct {
	Store      ports.Reader
	Dispatcher *services.DispatchCoordinator
	Log        zerolog.Logger
}

func (h *GroupHandler) List(c *gin.Context) {
	var status domain.GroupStatus
	if raw := c.Query("status"); raw != "" {
		s, ok := domain.ParseGroupStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "status must be one of open, scheduled, collected")
			return
		}
		status = s
	}

	groups, err := h.Store.ListGroups(c.Request.Context(), status)
	if err != nil {
		handleError(c, h.Log, "list groups", err)
		return
	}

	res := dto.ListGroupsResponse{Groups: make([]dto.GroupResponse, 0, len(groups))}
	for _, g := range groups {
		res.Groups = append(res.Groups, toGroupResponse(g))
	}
	c.JSON(http.StatusOK, res)
}

// Dispatch assigns the nearest available worker to a Scheduled group.
func (h *GroupHandler) Dispatch(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	task, err := h.Dispatcher.Dispatch(c.Request.Context(), groupID)
	if err != nil {
		handleError(c, h.Log, "dispatch group", err)
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(task))
}
