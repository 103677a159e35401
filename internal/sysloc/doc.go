// Package sysloc watches whether the device location service is switched
// on at all, independently of the app's permission.
//
// A probe asks for one low-accuracy fix with a short timeout. A
// provider-disabled failure means Disabled, a fix means Enabled, and any
// other failure (timeout, permission) leaves the state unchanged.
// Subscribers are told only about changes, never about steady values.
//
// The monitor only emits signals. It never stops services or touches the
// network; package sharing reacts to its transitions.
package sysloc
