package domain

import "strconv"

type ETAKind int

const (
	ETAUnknown ETAKind = iota
	ETAArriving
	ETAMinutes
)

// Estimated time to finish a route.
type ETA struct {
	Kind    ETAKind
	Minutes int
}

func (e ETA) String() string {
	switch e.Kind {
	case ETAArriving:
		return "arriving"
	case ETAMinutes:
		return strconv.Itoa(e.Minutes)
	default:
		return "N/A"
	}
}

// MarshalText encodes the ETA the way clients display it.
func (e ETA) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Progress along a route at one instant.
type Progress struct {
	Percent float64
	ETA     ETA
	// Defined is false when the route is too short to measure.
	Defined bool
}
