package services

import (
	"math"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/geo"
)

// DefaultSpeedKmh is the fixed travel speed used for ETAs.
const DefaultSpeedKmh = 30.0

// ProgressTracker measures how far along its route a worker is.
//
// The live position is projected onto the nearest route vertex, not the
// nearest point on a segment: a worker midway along a long segment is
// reported at whichever endpoint is closer, plus the offset to it.
type ProgressTracker struct {
	SpeedKmh float64
}

func NewProgressTracker(speedKmh float64) ProgressTracker {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return ProgressTracker{SpeedKmh: speedKmh}
}

// Compute returns progress in [0,100] and an ETA for position on route.
// Routes with fewer than two points are reported as undefined with an
// unknown ETA; callers keep whatever progress they had before.
func (t ProgressTracker) Compute(route []domain.GeoPoint, position domain.GeoPoint) domain.Progress {
	if len(route) < 2 {
		return domain.Progress{Percent: 0, ETA: domain.ETA{Kind: domain.ETAUnknown}}
	}

	// prefix[i] is the distance along the route from route[0] to route[i].
	prefix := make([]float64, len(route))
	for i := 1; i < len(route); i++ {
		prefix[i] = prefix[i-1] + geo.DistanceKm(route[i-1], route[i])
	}
	total := prefix[len(route)-1]

	closest := 0
	closestDistance := math.Inf(1)
	for i, p := range route {
		d := geo.DistanceKm(position, p)
		if d < closestDistance {
			closestDistance = d
			closest = i
		}
	}

	percent := 0.0
	if total > 0 {
		traveled := prefix[closest] + geo.DistanceKm(position, route[closest])
		percent = clampPercent(traveled / total * 100)
	}

	return domain.Progress{
		Percent: percent,
		ETA:     t.eta(total, percent),
		Defined: true,
	}
}

// ETAFor derives the ETA from an already stored progress value.
func (t ProgressTracker) ETAFor(route []domain.GeoPoint, percent float64) domain.ETA {
	if len(route) < 2 {
		return domain.ETA{Kind: domain.ETAUnknown}
	}
	return t.eta(geo.RouteLengthKm(route), clampPercent(percent))
}

func (t ProgressTracker) eta(totalKm, percent float64) domain.ETA {
	remaining := totalKm * (1 - percent/100)
	minutes := remaining / t.SpeedKmh * 60
	if math.IsNaN(minutes) {
		return domain.ETA{Kind: domain.ETAUnknown}
	}
	if minutes <= 0 {
		return domain.ETA{Kind: domain.ETAArriving}
	}
	return domain.ETA{Kind: domain.ETAMinutes, Minutes: int(math.Round(minutes))}
}

// NaN collapses to 0 so noisy input never escapes the range.
func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
