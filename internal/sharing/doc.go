// Package sharing implements the location-sharing controller.
//
// Controller owns the user's sharing intent. It gates a toggle-on on the
// permission tier and the device location service, starts and stops the
// background reporting service, mirrors the state into the backend
// presence flag, and starts the position stream, proximity feed and
// availability monitor while sharing is on.
//
// States:
//
//	unknown -> off | blocked         initial resolution (Start)
//	off -> enabling -> on            toggle on, service started
//	enabling -> off                  service failed to start
//	on -> disabling -> off           toggle off, or forced by the monitor
//
// Transitions are serialised. A toggle that arrives while another
// transition is running is dropped with ErrTransitionInProgress rather
// than queued. The availability monitor only emits signals; the
// controller is the single writer of the intent and the presence flag.
//
// Divergence between intent and reality is always resolved toward off.
package sharing
