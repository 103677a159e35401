package mqtt

import "fmt"

// TopicPrefix is the root of every topic the daemon uses.
const TopicPrefix = "locshare"

// Topics builds the daemon's MQTT topic names.
//
// The device shim (the process that owns the OS location and permission
// APIs) talks to the daemon over:
//
//	locshare/device/{device}/request              daemon -> shim
//	locshare/device/{device}/response/{request}   shim -> daemon
//	locshare/device/{device}/fix/{watch}          shim -> daemon, per watch
//
// The daemon itself publishes:
//
//	locshare/client/{client}/status               retained online/offline
//	locshare/sharing/{user}/state                 retained sharing state
//	locshare/presence/{user}/location             reporter fixes
type Topics struct{}

// DeviceRequest is where the daemon sends requests to the device shim.
func (Topics) DeviceRequest(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/request", TopicPrefix, deviceID)
}

// DeviceResponse is where the shim answers a single request.
func (Topics) DeviceResponse(deviceID, requestID string) string {
	return fmt.Sprintf("%s/device/%s/response/%s", TopicPrefix, deviceID, requestID)
}

// AllDeviceResponses matches every response for a device.
func (Topics) AllDeviceResponses(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/response/+", TopicPrefix, deviceID)
}

// DeviceFix carries the fixes of one position watch.
func (Topics) DeviceFix(deviceID, watchID string) string {
	return fmt.Sprintf("%s/device/%s/fix/%s", TopicPrefix, deviceID, watchID)
}

// AllDeviceFixes matches fixes of every watch on a device.
func (Topics) AllDeviceFixes(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/fix/+", TopicPrefix, deviceID)
}

// ClientStatus is the retained liveness topic of an MQTT client.
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/client/%s/status", TopicPrefix, clientID)
}

// SharingState is the retained sharing state of a user.
func (Topics) SharingState(userID string) string {
	return fmt.Sprintf("%s/sharing/%s/state", TopicPrefix, userID)
}

// PresenceLocation carries the background reporter's fixes for a user.
func (Topics) PresenceLocation(userID string) string {
	return fmt.Sprintf("%s/presence/%s/location", TopicPrefix, userID)
}

// LastSegment returns the final level of a topic, e.g. the request id of a
// DeviceResponse topic. It returns "" for an empty topic.
func LastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
