// Package api implements the local HTTP REST API and WebSocket server that
// the UI shell renders the sharing screen from.
//
// This package provides:
//   - REST endpoints for the sharing toggle, foreground refresh, logout,
//     the nearby-users snapshot and the radius selection
//   - WebSocket hub broadcasting sharing state, notices, position fixes,
//     map-center requests and proximity updates
//   - Middleware stack (request ID, logging, metrics, recovery, CORS)
//   - Prometheus exposition on /metrics
//
// # Architecture
//
// The API sits between the UI shell and the sharing controller. Toggles
// flow from the API into the controller; controller, stream and feed
// events flow back out to subscribed WebSocket clients.
//
// # Security
//
// The server binds to loopback by default and carries no authentication.
// The session token never crosses this API.
//
// # Errors
//
// Refused toggles are returned as structured errors carrying a settings
// target ("app" or "location") so the shell can deep-link the user to the
// page that fixes the cause.
package api
