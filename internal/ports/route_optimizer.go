package ports

import (
	"context"
	"waas-dispatch-service/internal/domain"
)

// Optional external service that orders stops for a driver.
type RouteOptimizer interface {
	// Optimize returns the visiting order of stops as indexes into stops.
	// start is where the vehicle begins; it is not part of the result.
	Optimize(ctx context.Context, start domain.GeoPoint, stops []domain.GeoPoint) ([]int, error)
}
