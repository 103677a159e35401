package platform

import (
	"context"
	"fmt"
)

// PermissionState is the location permission tier currently held.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionDenied
	PermissionForegroundOnly
	PermissionForegroundAndBackground
)

var permissionStateNames = map[PermissionState]string{
	PermissionUnknown:                 "unknown",
	PermissionDenied:                  "denied",
	PermissionForegroundOnly:          "foreground_only",
	PermissionForegroundAndBackground: "foreground_and_background",
}

func (s PermissionState) String() string {
	if name, ok := permissionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("permission_state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s PermissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Logger is the logging interface used by platform components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gate resolves the permission tiers required for location sharing.
//
// Gate never caches: every call re-queries the OS, since the user can
// change permissions outside the app at any time. Failures are folded
// into the returned state; Gate methods never return errors.
type Gate struct {
	os     PermissionOS
	caps   Capabilities
	logger Logger
}

// NewGate creates a Gate for a platform with the given capabilities.
func NewGate(os PermissionOS, caps Capabilities) *Gate {
	return &Gate{os: os, caps: caps, logger: noopLogger{}}
}

// SetLogger sets the logger for the gate.
func (g *Gate) SetLogger(logger Logger) {
	g.logger = logger
}

// Capabilities returns the platform capabilities the gate applies.
func (g *Gate) Capabilities() Capabilities {
	return g.caps
}

// CurrentState queries the OS without prompting. A foreground permission
// the user has never been asked for is PermissionUnknown; only an actual
// denial is PermissionDenied.
func (g *Gate) CurrentState(ctx context.Context) PermissionState {
	fg, err := g.os.Check(ctx, PermissionForeground)
	if err != nil {
		g.logger.Warn("foreground permission check failed", "error", err)
		return PermissionUnknown
	}
	switch fg {
	case GrantGranted:
	case GrantUndetermined:
		return PermissionUnknown
	default:
		return PermissionDenied
	}
	if !g.caps.BackgroundTier {
		return PermissionForegroundOnly
	}

	bg, err := g.os.Check(ctx, PermissionBackground)
	if err != nil {
		g.logger.Warn("background permission check failed", "error", err)
		return PermissionForegroundOnly
	}
	if bg == GrantGranted {
		return PermissionForegroundAndBackground
	}
	return PermissionForegroundOnly
}

// RequestForegroundAndBackground prompts for foreground location, then for
// the background tier where the platform has one, then for the
// notification permission where a foreground service needs it. A denial
// at any step ends the flow with the best state reached so far; a denied
// notification permission does not affect the result.
func (g *Gate) RequestForegroundAndBackground(ctx context.Context) PermissionState {
	fg, err := g.os.Request(ctx, PermissionForeground)
	if err != nil {
		g.logger.Warn("foreground permission request failed", "error", err)
		return g.CurrentState(ctx)
	}
	if fg != GrantGranted {
		g.logger.Info("foreground location permission denied")
		return PermissionDenied
	}

	state := PermissionForegroundOnly
	if g.caps.BackgroundTier {
		bg, err := g.os.Request(ctx, PermissionBackground)
		switch {
		case err != nil:
			g.logger.Warn("background permission request failed", "error", err)
		case bg == GrantGranted:
			state = PermissionForegroundAndBackground
		default:
			g.logger.Info("background location permission denied")
		}
	}

	if g.caps.NotificationForService {
		grant, err := g.os.Request(ctx, PermissionNotification)
		if err != nil || grant != GrantGranted {
			g.logger.Info("notification permission not granted, continuing", "grant", grant, "error", err)
		}
	}

	return state
}

// Sufficient reports whether state allows continuous reporting on this
// platform.
func (g *Gate) Sufficient(state PermissionState) bool {
	if g.caps.BackgroundTier {
		return state == PermissionForegroundAndBackground
	}
	return state == PermissionForegroundOnly || state == PermissionForegroundAndBackground
}
