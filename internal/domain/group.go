package domain

import (
	"time"

	"github.com/google/uuid"
)

type GroupStatus string

const (
	GroupOpen      GroupStatus = "open"
	GroupScheduled GroupStatus = "scheduled"
	GroupCollected GroupStatus = "collected"
)

// ParseGroupStatus accepts the lower-case status names used on the wire.
func ParseGroupStatus(s string) (GroupStatus, bool) {
	switch GroupStatus(s) {
	case GroupOpen, GroupScheduled, GroupCollected:
		return GroupStatus(s), true
	}
	return "", false
}

// Cluster of nearby reports collected together.
//
// The centroid is the location of the first report and is never recomputed.
// Status only moves forward: Open -> Scheduled -> Collected.
type CollectionGroup struct {
	ID              uuid.UUID
	Centroid        GeoPoint
	CellToken       string
	Status          GroupStatus
	MemberReportIDs []uuid.UUID
	ReportCount     int
	CreatedAt       time.Time
	ScheduledAt     *time.Time
}

// IsMature reports whether the group has enough reports or has waited long enough.
func (g *CollectionGroup) IsMature(now time.Time, threshold int, timeLimit time.Duration) bool {
	if g.ReportCount >= threshold {
		return true
	}
	return now.Sub(g.CreatedAt) >= timeLimit
}
