package handlers

import (
	"net/http"
	"waas-dispatch-service/internal/ports"

	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog"
)

// TaskHandler exports task routes for map clients.
type TaskHandler struct {
	Store ports.Reader
	Log   zerolog.Logger
}

// Route returns the task route as a GeoJSON FeatureCollection: one
// LineString for the path and one Point per stop, in visiting order.
func (h *TaskHandler) Route(c *gin.Context) {
	taskID, ok := pathID(c, "id")
	if !ok {
		return
	}

	task, err := h.Store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, h.Log, "task route", err)
		return
	}

	fc := geojson.NewFeatureCollection()

	line := make([][]float64, 0, len(task.Route))
	for _, s := range task.Route {
		line = append(line, s.Location.CoordsToList())
	}
	path := geojson.NewLineStringFeature(line)
	path.SetProperty("task_id", task.ID.String())
	path.SetProperty("group_id", task.GroupID.String())
	path.SetProperty("worker_id", task.WorkerID.String())
	path.SetProperty("status", string(task.Status))
	path.SetProperty("progress", task.Progress)
	fc.AddFeature(path)

	for i, s := range task.Route {
		stop := geojson.NewPointFeature(s.Location.CoordsToList())
		stop.SetProperty("sequence", i)
		if s.IsDepot() {
			stop.SetProperty("kind", "start")
		} else {
			stop.SetProperty("kind", "report")
			stop.SetProperty("report_id", s.ReportID.String())
		}
		fc.AddFeature(stop)
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		handleError(c, h.Log, "task route", err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}
