package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// handleError maps service errors to HTTP responses. Unexpected errors are
// logged and hidden from the client.
func handleError(c *gin.Context, log zerolog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNoWorkerAvailable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrExternalService):
		log.Warn().Err(err).Str("op", op).Msg("upstream failure")
		writeError(c, http.StatusBadGateway, "upstream service unavailable")
	default:
		log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(c *gin.Context, v any) bool {
	dec := json.NewDecoder(c.Request.Body)
	defer c.Request.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(c, http.StatusBadRequest, "body must contain only one JSON object")
		return false
	}
	return true
}

func parseID(raw, name string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a uuid", domain.ErrValidation, name)
	}
	return id, nil
}

func pathID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := parseID(c.Param(param), param)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func locationFrom(lat, lng *float64) (domain.GeoPoint, error) {
	if lat == nil || lng == nil {
		return domain.GeoPoint{}, fmt.Errorf("%w: latitude and longitude are required", domain.ErrValidation)
	}
	p := domain.GeoPoint{Lat: *lat, Lng: *lng}
	if err := p.Validate(); err != nil {
		return domain.GeoPoint{}, err
	}
	return p, nil
}

func toPoint(p *domain.GeoPoint) *dto.PointResponse {
	if p == nil {
		return nil
	}
	return &dto.PointResponse{Latitude: p.Lat, Longitude: p.Lng}
}

func toReportResponse(r *domain.Report) dto.ReportResponse {
	res := dto.ReportResponse{
		ReportID:   r.ID,
		ReporterID: r.ReporterID,
		Latitude:   r.Location.Lat,
		Longitude:  r.Location.Lng,
		WasteType:  r.WasteType,
		ImageURL:   r.ImageURL,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.GroupID != uuid.Nil {
		id := r.GroupID
		res.GroupID = &id
	}
	return res
}

func toGroupResponse(g *domain.CollectionGroup) dto.GroupResponse {
	ids := g.MemberReportIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return dto.GroupResponse{
		GroupID:     g.ID,
		Centroid:    dto.PointResponse{Latitude: g.Centroid.Lat, Longitude: g.Centroid.Lng},
		Status:      string(g.Status),
		ReportCount: g.ReportCount,
		ReportIDs:   ids,
		CreatedAt:   g.CreatedAt,
		ScheduledAt: g.ScheduledAt,
	}
}

func toTaskResponse(t *domain.Task) dto.TaskResponse {
	route := make([]dto.RouteStopResponse, 0, len(t.Route))
	for _, s := range t.Route {
		stop := dto.RouteStopResponse{Latitude: s.Location.Lat, Longitude: s.Location.Lng}
		if !s.IsDepot() {
			id := s.ReportID
			stop.ReportID = &id
		}
		route = append(route, stop)
	}
	return dto.TaskResponse{
		TaskID:    t.ID,
		GroupID:   t.GroupID,
		WorkerID:  t.WorkerID,
		Status:    string(t.Status),
		Progress:  t.Progress,
		Route:     route,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
	}
}
