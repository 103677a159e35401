package sharing

import (
	"time"

	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/sysloc"
)

// State is the controller state.
type State string

const (
	StateUnknown   State = "unknown"
	StateBlocked   State = "blocked"
	StateOff       State = "off"
	StateEnabling  State = "enabling"
	StateOn        State = "on"
	StateDisabling State = "disabling"
)

// BlockReason qualifies StateBlocked, and names the cause of a forced stop.
type BlockReason string

const (
	ReasonNone              BlockReason = ""
	ReasonSystemDisabled    BlockReason = "system_disabled"
	ReasonPermissionMissing BlockReason = "permission_missing"
)

// Status is a snapshot of the controller.
type Status struct {
	State        State                    `json:"state"`
	Reason       BlockReason              `json:"reason,omitempty"`
	Intent       bool                     `json:"intent"`
	Permission   platform.PermissionState `json:"permission"`
	Availability sysloc.Availability      `json:"availability"`
	Since        time.Time                `json:"since"`
}

// Notice codes.
const (
	NoticeToggleRejected = "toggle_rejected"
	NoticeSharingStopped = "sharing_stopped"
	NoticeStartFailed    = "start_failed"
)

// Notice is a user-visible, actionable message.
type Notice struct {
	Code     string                  `json:"code"`
	Message  string                  `json:"message"`
	Settings platform.SettingsTarget `json:"settings,omitempty"`
	At       time.Time               `json:"at"`
}

// EventKind distinguishes controller events.
type EventKind string

const (
	EventStateChanged EventKind = "sharing.state_changed"
	EventNotice       EventKind = "sharing.notice"
)

// Event is delivered to subscribers. Exactly one of Status and Notice is set.
type Event struct {
	Kind   EventKind
	Status *Status
	Notice *Notice
}

// User-facing messages.
const (
	msgNeedPermission    = "Location permission is required to share your location. Allow location access in app settings."
	msgNeedBackground    = "Sharing needs location access all the time. Choose \"Allow all the time\" in app settings."
	msgLocationOff       = "Location services are turned off. Turn on location in system settings to share your location."
	msgLocationUnknown   = "Your location could not be determined. Check that location services are on and try again."
	msgStartFailed       = "Location sharing could not be started. Please try again."
	msgStoppedLocation   = "Location sharing was turned off because location services were disabled. Turn location back on in system settings to share again."
	msgStoppedPermission = "Location sharing was turned off because location permission was revoked. Allow location access in app settings to share again."
)
