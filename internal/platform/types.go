package platform

import (
	"context"
	"time"

	"github.com/nerrad567/locshare-core/internal/geo"
)

// Permission names a runtime permission tier.
type Permission string

const (
	PermissionForeground   Permission = "foreground"
	PermissionBackground   Permission = "background"
	PermissionNotification Permission = "notification"
)

// Grant is the OS answer for one permission tier.
type Grant string

const (
	GrantGranted      Grant = "granted"
	GrantDenied       Grant = "denied"
	GrantUndetermined Grant = "undetermined"
)

// Accuracy selects the positioning mode for a fix.
type Accuracy string

const (
	AccuracyLow  Accuracy = "low"
	AccuracyHigh Accuracy = "high"
)

// SettingsTarget is the OS settings screen a recoverable failure links to.
type SettingsTarget string

const (
	// SettingsApp is the app's own permission page.
	SettingsApp SettingsTarget = "app"

	// SettingsLocation is the system location-source page.
	SettingsLocation SettingsTarget = "location"
)

// PermissionOS queries and requests runtime permissions.
// Check never prompts; Request may show a system dialog.
type PermissionOS interface {
	Check(ctx context.Context, p Permission) (Grant, error)
	Request(ctx context.Context, p Permission) (Grant, error)
}

// WatchOptions configures a continuous position subscription.
type WatchOptions struct {
	Accuracy       Accuracy
	Interval       time.Duration
	DistanceMeters float64
}

// Watch is an active continuous position subscription.
type Watch interface {
	// Stop ends the subscription. No callback runs after Stop returns.
	Stop(ctx context.Context) error
}

// Locator produces position fixes.
type Locator interface {
	// CurrentFix requests one fix. Errors are classified with the
	// sentinels in errors.go.
	CurrentFix(ctx context.Context, accuracy Accuracy, timeout time.Duration) (geo.Coordinate, error)

	// Watch starts a continuous subscription delivering every fix to fn.
	Watch(ctx context.Context, opts WatchOptions, fn func(geo.Coordinate)) (Watch, error)
}

// SettingsOpener deep-links into an OS settings screen.
type SettingsOpener interface {
	OpenSettings(ctx context.Context, target SettingsTarget) error
}
