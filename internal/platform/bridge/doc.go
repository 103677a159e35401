// Package bridge implements the platform interfaces over MQTT.
//
// The native side of the app (the "shim") owns the OS permission and
// location APIs and answers JSON requests:
//
//	locshare/device/{device}/request            {request_id, op, ...}
//	locshare/device/{device}/response/{id}      {request_id, ok, grant|fix|error}
//	locshare/device/{device}/fix/{watch_id}     {lat, lon, captured_at}
//
// Error codes in responses map onto the platform sentinels, so callers
// only ever see platform.ErrProviderDisabled, ErrPermissionDenied,
// ErrTimeout or ErrUnavailable.
package bridge
