package dto

import (
	"time"

	"github.com/google/uuid"
)

type RouteStopResponse struct {
	// Empty for the starting point of the route.
	ReportID  *uuid.UUID `json:"report_id"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
}

type TaskResponse struct {
	TaskID    uuid.UUID           `json:"task_id"`
	GroupID   uuid.UUID           `json:"group_id"`
	WorkerID  uuid.UUID           `json:"worker_id"`
	Status    string              `json:"status"`
	Progress  float64             `json:"progress"`
	Route     []RouteStopResponse `json:"route"`
	StartTime time.Time           `json:"start_time"`
	EndTime   *time.Time          `json:"end_time"`
}

type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type CompleteCollectionRequest struct {
	GroupID  string `json:"group_id"`
	WorkerID string `json:"worker_id"`
}

type CompleteCollectionResponse struct {
	GroupID uuid.UUID `json:"group_id"`
	Status  string    `json:"status"`
}
