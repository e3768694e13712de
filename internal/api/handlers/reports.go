package handlers

import (
	"net/http"
	"waas-dispatch-service/internal/api/dto"
	"waas-dispatch-service/internal/ports"
	"waas-dispatch-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ReportHandler accepts citizen waste reports.
type ReportHandler struct {
	Grouping *services.GroupingEngine
	Store    ports.Reader
	Log      zerolog.Logger
}

func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.CreateReportRequest
	if !decodeJSON(c, &req) {
		return
	}

	reporterID, err := parseID(req.ReporterID, "reporter_id")
	if err != nil {
		handleError(c, h.Log, "create report", err)
		return
	}
	loc, err := locationFrom(req.Latitude, req.Longitude)
	if err != nil {
		handleError(c, h.Log, "create report", err)
		return
	}

	report, err := h.Grouping.SubmitReport(c.Request.Context(), services.SubmitReportInput{
		ReporterID: reporterID,
		Location:   loc,
		WasteType:  req.WasteType,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		handleError(c, h.Log, "create report", err)
		return
	}

	c.JSON(http.StatusCreated, toReportResponse(report))
}

func (h *ReportHandler) List(c *gin.Context) {
	reporterID, err := parseID(c.Query("reporter_id"), "reporter_id")
	if err != nil {
		handleError(c, h.Log, "list reports", err)
		return
	}

	reports, err := h.Store.ListReportsByReporter(c.Request.Context(), reporterID)
	if err != nil {
		handleError(c, h.Log, "list reports", err)
		return
	}

	res := dto.ListReportsResponse{Reports: make([]dto.ReportResponse, 0, len(reports))}
	for _, r := range reports {
		res.Reports = append(res.Reports, toReportResponse(r))
	}
	c.JSON(http.StatusOK, res)
}
