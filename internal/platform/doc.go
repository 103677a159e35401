// Package platform models the device operating system as seen by the
// location-sharing core: runtime permissions, position fixes, and the
// settings screens the user is sent to when something is missing.
//
// The OS is reached through small interfaces (PermissionOS, Locator,
// SettingsOpener). Package platform/bridge implements them over MQTT
// against the native shim; tests use fakes.
//
// Gate layers the permission policy on top: which tiers a platform needs
// for continuous reporting and in which order they are requested.
package platform
