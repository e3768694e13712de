package ports

import (
	"waas-dispatch-service/internal/domain"

	"github.com/google/uuid"
)

// Live progress for one report, as shown to its reporter.
type ReportProgress struct {
	ReportID       uuid.UUID           `json:"report_id"`
	Status         domain.ReportStatus `json:"status"`
	Progress       float64             `json:"progress"`
	ETA            domain.ETA          `json:"eta"`
	WorkerLocation *domain.GeoPoint    `json:"worker_location,omitempty"`
}

// Pushes progress to connected users. Must not block the caller for long.
type ProgressPublisher interface {
	Publish(userID uuid.UUID, p ReportProgress)
}
