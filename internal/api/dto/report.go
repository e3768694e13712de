package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateReportRequest struct {
	ReporterID string   `json:"reporter_id"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	WasteType  string   `json:"waste_type"`
	ImageURL   string   `json:"image_url"`
}

type ReportResponse struct {
	ReportID   uuid.UUID  `json:"report_id"`
	ReporterID uuid.UUID  `json:"reporter_id"`
	GroupID    *uuid.UUID `json:"group_id"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	WasteType  string     `json:"waste_type"`
	ImageURL   string     `json:"image_url,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ListReportsResponse struct {
	Reports []ReportResponse `json:"reports"`
}
