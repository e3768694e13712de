package handlers

import (
	"context"
	"errors"
	"net/http"
	"waas-dispatch-service/internal/adapters/realtime"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/services"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ProgressHandler serves collection progress to reporters, as a snapshot or
// as a live websocket stream.
type ProgressHandler struct {
	Tracking *services.TrackingService
	Hub      *realtime.Hub
	// OriginPatterns restricts websocket origins; empty allows any.
	OriginPatterns []string
	Log            zerolog.Logger
}

func (h *ProgressHandler) ForUser(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	progress, err := h.Tracking.FetchProgress(c.Request.Context(), userID)
	if err != nil {
		handleError(c, h.Log, "fetch progress", err)
		return
	}

	res := make([]dto.ReportProgressResponse, 0, len(progress))
	for _, p := range progress {
		res = append(res, dto.ReportProgressResponse{
			ReportID:       p.ReportID,
			Status:         string(p.Status),
			Progress:       p.Progress,
			ETA:            p.ETA.String(),
			WorkerLocation: toPoint(p.WorkerLocation),
		})
	}
	c.JSON(http.StatusOK, res)
}

// Stream upgrades to a websocket, sends the current progress of every
// report of the user, then pushes updates as workers move.
func (h *ProgressHandler) Stream(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	snapshot, err := h.Tracking.FetchProgress(c.Request.Context(), userID)
	if err != nil {
		handleError(c, h.Log, "stream progress", err)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		h.Log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 16)

	err = realtime.Serve(c.Request.Context(), h.Hub, userID, conn, snapshot)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "bye")
	case websocket.CloseStatus(err) != -1:
	default:
		h.Log.Debug().Err(err).Str("user_id", userID.String()).Msg("progress stream closed")
	}
}
