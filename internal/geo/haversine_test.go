package geo

import (
	"math"
	"testing"
	"waas-dispatch-service/internal/domain"
)

func TestDistanceKmOneDegreeAtEquator(t *testing.T) {
	d := DistanceKm(domain.GeoPoint{Lat: 0, Lng: 0}, domain.GeoPoint{Lat: 0, Lng: 1})
	if math.Abs(d-111.19) > 0.5 {
		t.Fatalf("distance = %.3f km, want ~111.19", d)
	}
}

func TestDistanceKmSymmetricAndZero(t *testing.T) {
	points := []domain.GeoPoint{
		{Lat: 0, Lng: 0},
		{Lat: 10.0261, Lng: 76.3125},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 89.9, Lng: -179.9},
		{Lat: 51.5074, Lng: -0.1278},
	}

	for _, a := range points {
		if d := DistanceKm(a, a); d != 0 {
			t.Errorf("DistanceKm(%v, %v) = %v, want 0", a, a, d)
		}
		for _, b := range points {
			ab := DistanceKm(a, b)
			ba := DistanceKm(b, a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("asymmetric: d(%v,%v)=%v d(%v,%v)=%v", a, b, ab, b, a, ba)
			}
		}
	}
}

func TestDistanceKmNaNPropagates(t *testing.T) {
	d := DistanceKm(domain.GeoPoint{Lat: math.NaN(), Lng: 0}, domain.GeoPoint{Lat: 0, Lng: 0})
	if !math.IsNaN(d) {
		t.Fatalf("distance = %v, want NaN", d)
	}
}

func TestRouteLengthKm(t *testing.T) {
	route := []domain.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 0, Lng: 2}}
	want := 2 * DistanceKm(route[0], route[1])
	if got := RouteLengthKm(route); math.Abs(got-want) > 1e-9 {
		t.Fatalf("RouteLengthKm = %v, want %v", got, want)
	}
	if got := RouteLengthKm(route[:1]); got != 0 {
		t.Fatalf("single point length = %v, want 0", got)
	}
}
