// Package mqtt wraps the paho MQTT client for the locshare daemon.
//
// MQTT is the daemon's link to the device shim that owns the operating
// system's location and permission APIs (see package platform/bridge), and
// the channel on which the background reporter relays fixes.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceResponses("device-001"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(mqtt.LastSegment(topic), payload)
//	    })
package mqtt
