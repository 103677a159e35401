package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLocationFix      = "location_fix"
	MeasurementProximityRefresh = "proximity_refresh"
	MeasurementSharingChange    = "sharing_transition"
)

// WriteLocationFix records one position fix. source is "reporter" for the
// background service and "stream" for the foreground position stream.
func (c *Client) WriteLocationFix(userID, source string, lat, lon float64, at time.Time) {
	c.WritePointWithTime(MeasurementLocationFix,
		map[string]string{"user_id": userID, "source": source},
		map[string]interface{}{"lat": lat, "lon": lon},
		at,
	)
}

// WriteProximityRefresh records the outcome of one nearby-users query.
func (c *Client) WriteProximityRefresh(radiusMeters, count int, took time.Duration, ok bool) {
	c.WritePoint(MeasurementProximityRefresh,
		map[string]string{"radius_m": strconv.Itoa(radiusMeters)},
		map[string]interface{}{
			"count":       count,
			"duration_ms": took.Milliseconds(),
			"ok":          ok,
		},
	)
}

// WriteTransition records a sharing state change.
func (c *Client) WriteTransition(from, to, action string) {
	c.WritePoint(MeasurementSharingChange,
		map[string]string{"action": action, "to": to},
		map[string]interface{}{"from": from},
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if c == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
