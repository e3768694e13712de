package dto

import (
	"time"

	"github.com/google/uuid"
)

type PointResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type GroupResponse struct {
	GroupID     uuid.UUID     `json:"group_id"`
	Centroid    PointResponse `json:"centroid"`
	Status      string        `json:"status"`
	ReportCount int           `json:"report_count"`
	ReportIDs   []uuid.UUID   `json:"report_ids"`
	CreatedAt   time.Time     `json:"created_at"`
	ScheduledAt *time.Time    `json:"scheduled_at"`
}

type ListGroupsResponse struct {
	Groups []GroupResponse `json:"groups"`
}

type SweepResponse struct {
	Scheduled  int  `json:"scheduled"`
	Dispatched int  `json:"dispatched"`
	Skipped    bool `json:"skipped"`
}
