package services

import (
	"errors"
	"fmt"
	"math"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/geo"

	"github.com/google/uuid"
)

// BuildRoute orders stops using a greedy nearest-neighbor walk from depot.
//
// At each step the closest unvisited stop (Haversine) is visited next.
// Ties go to the stop that appears first in the input, so the result is
// deterministic for a given input order. It does not attempt global
// optimization; group sizes are bounded by the maturity threshold, which
// keeps the O(n^2) scan cheap.
//
// The returned route always starts with a depot entry (uuid.Nil id).
func BuildRoute(depot domain.GeoPoint, stops []domain.RouteStop) []domain.RouteStop {
	route := make([]domain.RouteStop, 0, 1+len(stops))
	route = append(route, domain.RouteStop{ReportID: uuid.Nil, Location: depot})

	remaining := make([]domain.RouteStop, len(stops))
	copy(remaining, stops)

	current := depot
	for len(remaining) > 0 {
		bestIdx := 0
		bestDistance := math.Inf(1)

		for i, s := range remaining {
			d := geo.DistanceKm(current, s.Location)
			// Strict comparison keeps the first-encountered stop on ties.
			if d < bestDistance {
				bestDistance = d
				bestIdx = i
			}
		}

		next := remaining[bestIdx]
		route = append(route, next)
		current = next.Location
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return route
}

// ApplyOrder builds a depot-first route from an externally computed visiting
// order. order must be a permutation of the indexes of stops.
func ApplyOrder(depot domain.GeoPoint, stops []domain.RouteStop, order []int) ([]domain.RouteStop, error) {
	if len(order) != len(stops) {
		return nil, fmt.Errorf("apply order: got %d indexes for %d stops", len(order), len(stops))
	}

	seen := make([]bool, len(stops))
	route := make([]domain.RouteStop, 0, 1+len(stops))
	route = append(route, domain.RouteStop{ReportID: uuid.Nil, Location: depot})

	for _, idx := range order {
		if idx < 0 || idx >= len(stops) {
			return nil, fmt.Errorf("apply order: index %d out of range", idx)
		}
		if seen[idx] {
			return nil, errors.New("apply order: duplicate index in order")
		}
		seen[idx] = true
		route = append(route, stops[idx])
	}

	return route, nil
}
