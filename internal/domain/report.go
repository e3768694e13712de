package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReportStatus string

const (
	ReportPending          ReportStatus = "pending"
	ReportAwaitingApproval ReportStatus = "awaiting_approval"
	ReportAssigned         ReportStatus = "assigned"
	ReportCollected        ReportStatus = "collected"
)

// A user's request to have waste collected at a location.
// Location is fixed at creation; status follows the lifecycle of the
// group and task the report ends up in.
type Report struct {
	ID         uuid.UUID
	ReporterID uuid.UUID
	Location   GeoPoint
	WasteType  string
	ImageURL   string
	Status     ReportStatus
	GroupID    uuid.UUID
	CreatedAt  time.Time
}
