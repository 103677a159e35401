// Package reporter implements the background reporting service.
//
// The service has two halves. Supervisor runs in the daemon and exposes the
// service as Start(userID) / Stop(), launching `locshared report` as a
// supervised child process. Runner runs inside that child: on a fixed
// interval it takes one low-accuracy fix, uploads it to the backend, relays
// it over MQTT and records it in telemetry, independent of whether any UI
// is in the foreground.
//
// The session token and backend URL reach the child through its
// environment, never its argv.
package reporter
