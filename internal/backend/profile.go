package backend

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/nerrad567/locshare-core/internal/geo"
)

// Profile is a nearby-query result.
type Profile struct {
	ID                string          `json:"id"`
	DisplayName       string          `json:"displayName"`
	AvatarURL         string          `json:"avatarUrl,omitempty"`
	Location          json.RawMessage `json:"location,omitempty"`
	LocationUpdatedAt *time.Time      `json:"locationUpdatedAt,omitempty"`
}

// Coordinate decodes the profile's location. It reports false unless the
// location is an object with numeric, in-range lat and lon.
func (p Profile) Coordinate() (geo.Coordinate, bool) {
	raw := bytes.TrimSpace(p.Location)
	if len(raw) == 0 || raw[0] != '{' {
		return geo.Coordinate{}, false
	}

	var loc struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(raw, &loc); err != nil || loc.Lat == nil || loc.Lon == nil {
		return geo.Coordinate{}, false
	}
	lat, lon := *loc.Lat, *loc.Lon
	if !geo.ValidLatLon(lat, lon) {
		return geo.Coordinate{}, false
	}

	c := geo.Coordinate{Latitude: lat, Longitude: lon}
	if p.LocationUpdatedAt != nil {
		c.CapturedAt = *p.LocationUpdatedAt
	}
	return c, true
}
