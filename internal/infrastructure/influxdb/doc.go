// Package influxdb records location-sharing telemetry to InfluxDB v2.
//
// Telemetry is optional: Connect returns ErrDisabled when influxdb.enabled
// is false, and every write method is a no-op on a nil or closed client, so
// callers can hold a nil *Client without checks.
//
// Measurements:
//   - location_fix: lat/lon per fix, tagged by user and source
//   - proximity_refresh: result count and latency per nearby query
//   - sharing_transition: state changes, tagged by action
package influxdb
