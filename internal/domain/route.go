package domain

import "github.com/google/uuid"

// Represents a single stop in a collection route.
// The first stop of every route is the depot and carries uuid.Nil as ReportID.
type RouteStop struct {
	ReportID uuid.UUID `json:"report_id"`
	Location GeoPoint  `json:"location"`
}

// IsDepot reports whether the stop is the synthetic start entry.
func (s RouteStop) IsDepot() bool { return s.ReportID == uuid.Nil }
