// Package metrics holds the Prometheus collectors for the locshare daemon.
//
// A Metrics value owns its own registry so tests and multiple daemons in one
// process never collide on the default registry. It satisfies the observer
// hooks of the sharing controller, the system location monitor and the
// proximity feed, and serves the registry on /metrics through Handler.
package metrics
