package geo

import (
	"waas-dispatch-service/internal/domain"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// CellLevel is the s2 level used to bucket group centroids.
// Level 12 cells are roughly 2 km across, so a 1 km search touches a handful.
const CellLevel = 12

// CellToken returns the level-CellLevel cell token containing p.
func CellToken(p domain.GeoPoint) string {
	ll := s2.LatLngFromDegrees(p.Lat, p.Lng)
	return s2.CellIDFromLatLng(ll).Parent(CellLevel).ToToken()
}

// CoveringTokens returns the tokens of all level-CellLevel cells that
// intersect the cap of radiusKm around center. Any point within radiusKm of
// center lies in one of them.
func CoveringTokens(center domain.GeoPoint, radiusKm float64) []string {
	c := s2.PointFromLatLng(s2.LatLngFromDegrees(center.Lat, center.Lng))
	region := s2.CapFromCenterAngle(c, s1.Angle(radiusKm/EarthRadiusKm))

	rc := &s2.RegionCoverer{MinLevel: CellLevel, MaxLevel: CellLevel, MaxCells: 64}
	covering := rc.Covering(region)

	out := make([]string, 0, len(covering))
	for _, id := range covering {
		out = append(out, id.ToToken())
	}
	return out
}
