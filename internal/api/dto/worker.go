package dto

import "github.com/google/uuid"

type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type WorkerResponse struct {
	WorkerID     uuid.UUID      `json:"worker_id"`
	Location     *PointResponse `json:"location"`
	Availability string         `json:"availability"`
}

type TaskProgressResponse struct {
	TaskID   uuid.UUID `json:"task_id"`
	GroupID  uuid.UUID `json:"group_id"`
	Progress float64   `json:"progress"`
	ETA      string    `json:"eta"`
}

type LocationUpdateResponse struct {
	Tasks []TaskProgressResponse `json:"tasks"`
}

type ReportProgressResponse struct {
	ReportID       uuid.UUID      `json:"report_id"`
	Status         string         `json:"status"`
	Progress       float64        `json:"progress"`
	ETA            string         `json:"eta"`
	WorkerLocation *PointResponse `json:"worker_location"`
}
