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

// WorkerHandler registers workers and receives their location pings.
type WorkerHandler struct {
	Store    ports.Store
	Tracking *services.TrackingService
	Log      zerolog.Logger
}

// Upsert registers a worker, or updates the location of a known one.
func (h *WorkerHandler) Upsert(c *gin.Context) {
	workerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.LocationRequest
	if !decodeJSON(c, &req) {
		return
	}

	w := &domain.Worker{ID: workerID, Availability: domain.WorkerAvailable}
	if req.Latitude != nil || req.Longitude != nil {
		loc, err := locationFrom(req.Latitude, req.Longitude)
		if err != nil {
			handleError(c, h.Log, "upsert worker", err)
			return
		}
		w.Location = &loc
	}

	ctx := c.Request.Context()
	if err := h.Store.UpsertWorker(ctx, w); err != nil {
		handleError(c, h.Log, "upsert worker", err)
		return
	}

	saved, err := h.Store.GetWorker(ctx, workerID)
	if err != nil {
		handleError(c, h.Log, "upsert worker", err)
		return
	}

	c.JSON(http.StatusOK, dto.WorkerResponse{
		WorkerID:     saved.ID,
		Location:     toPoint(saved.Location),
		Availability: string(saved.Availability),
	})
}

func (h *WorkerHandler) UpdateLocation(c *gin.Context) {
	workerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.LocationRequest
	if !decodeJSON(c, &req) {
		return
	}
	loc, err := locationFrom(req.Latitude, req.Longitude)
	if err != nil {
		handleError(c, h.Log, "update location", err)
		return
	}

	progress, err := h.Tracking.UpdateWorkerLocation(c.Request.Context(), workerID, loc)
	if err != nil {
		handleError(c, h.Log, "update location", err)
		return
	}

	res := dto.LocationUpdateResponse{Tasks: make([]dto.TaskProgressResponse, 0, len(progress))}
	for _, p := range progress {
		res.Tasks = append(res.Tasks, dto.TaskProgressResponse{
			TaskID:   p.TaskID,
			GroupID:  p.GroupID,
			Progress: p.Progress,
			ETA:      p.ETA.String(),
		})
	}
	c.JSON(http.StatusOK, res)
}

func (h *WorkerHandler) Tasks(c *gin.Context) {
	workerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Store.GetWorker(ctx, workerID); err != nil {
		handleError(c, h.Log, "list worker tasks", err)
		return
	}

	tasks, err := h.Store.ListActiveTasksByWorker(ctx, workerID)
	if err != nil {
		handleError(c, h.Log, "list worker tasks", err)
		return
	}

	res := dto.ListTasksResponse{Tasks: make([]dto.TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		res.Tasks = append(res.Tasks, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, res)
}
