// Package geo holds the coordinate value type and the distance helpers
// shared by the position stream, the proximity feed and the backend client.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for every distance
// conversion. The backend's $nearSphere predicate assumes the same value.
const EarthRadiusMeters = 6371000.0

// Coordinate is a single position reading. It is a value: a newer reading
// replaces an older one wholesale.
type Coordinate struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

// Valid reports whether c holds finite latitude/longitude within range.
func (c Coordinate) Valid() bool {
	return ValidLatLon(c.Latitude, c.Longitude)
}

// ValidLatLon reports whether lat and lon are finite and in range.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// AngularRadius converts a linear radius in meters to radians on the
// Earth's surface.
func AngularRadius(meters float64) float64 {
	return meters / EarthRadiusMeters
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
