// Package geo holds the vehicle position model and the location provider
// that filters GPS jitter.
package geo

import (
	"math"
)

// earthRadiusMeters is the mean Earth radius used by Distance
const earthRadiusMeters = 6371000.0

// Position is a WGS84 fix. A position whose coordinates are both exactly zero
// or either NaN is treated as no fix at all.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"` // meters
}

// Valid reports whether p is a usable fix.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if p.Latitude == 0 && p.Longitude == 0 {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// FromOptional builds a Position from coordinates that may be missing.
func FromOptional(lat, lon *float64) Position {
	p := Position{Latitude: math.NaN(), Longitude: math.NaN()}
	if lat != nil {
		p.Latitude = *lat
	}
	if lon != nil {
		p.Longitude = *lon
	}
	return p
}

// Distance returns the great-circle distance between a and b in meters
// (haversine).
func Distance(a, b Position) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Near reports whether a and b are within tolerance degrees on both axes.
func Near(a, b Position, toleranceDegrees float64) bool {
	return math.Abs(a.Latitude-b.Latitude) <= toleranceDegrees &&
		math.Abs(a.Longitude-b.Longitude) <= toleranceDegrees
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
