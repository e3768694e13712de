package domain

import "github.com/google/uuid"

type Availability string

const (
	WorkerAvailable  Availability = "available"
	WorkerCollecting Availability = "collecting"
)

// Collection worker. Location is nil until the first ping arrives.
type Worker struct {
	ID           uuid.UUID
	Location     *GeoPoint
	Availability Availability
}
