package domain

import (
	"testing"
	"time"
)

func TestCollectionGroupIsMature(t *testing.T) {
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	limit := 72 * time.Hour

	cases := []struct {
		name  string
		count int
		now   time.Time
		want  bool
	}{
		{"fresh and small", 3, created.Add(time.Hour), false},
		{"threshold reached", 10, created.Add(time.Hour), true},
		{"above threshold", 12, created, true},
		{"just under time limit", 1, created.Add(limit - time.Second), false},
		{"time limit reached", 1, created.Add(limit), true},
	}

	for _, tc := range cases {
		g := &CollectionGroup{ReportCount: tc.count, CreatedAt: created}
		if got := g.IsMature(tc.now, 10, limit); got != tc.want {
			t.Errorf("%s: IsMature = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestETAString(t *testing.T) {
	cases := map[ETA]string{
		{Kind: ETAUnknown}:              "N/A",
		{Kind: ETAArriving}:             "arriving",
		{Kind: ETAMinutes, Minutes: 12}: "12",
	}
	for eta, want := range cases {
		if got := eta.String(); got != want {
			t.Errorf("ETA%+v.String() = %q, want %q", eta, got, want)
		}
	}
}
