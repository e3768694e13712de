package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskCollecting    TaskStatus = "collecting"
	TaskNotCollecting TaskStatus = "not_collecting"
)

// A worker's assignment to collect one group.
// Route[0] is the worker position at assignment time; the route never
// changes after creation. Progress is a percentage in [0,100].
type Task struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	WorkerID  uuid.UUID
	Status    TaskStatus
	Route     []RouteStop
	Progress  float64
	StartTime time.Time
	EndTime   *time.Time
}

// Points returns the route as a polyline.
func (t *Task) Points() []GeoPoint {
	out := make([]GeoPoint, 0, len(t.Route))
	for _, s := range t.Route {
		out = append(out, s.Location)
	}
	return out
}
