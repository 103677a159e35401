package sharing

import (
	"errors"
	"fmt"

	"github.com/nerrad567/locshare-core/internal/platform"
)

var (
	// ErrPermissionDenied means the permission tier needed for sharing is
	// missing. Recoverable through the app settings page.
	ErrPermissionDenied = errors.New("sharing: location permission denied")

	// ErrSystemLocationDisabled means the device location service is off.
	// Recoverable through the location settings page.
	ErrSystemLocationDisabled = errors.New("sharing: system location disabled")

	// ErrServiceStartFailure means the background reporting service did
	// not start. The enable attempt is abandoned.
	ErrServiceStartFailure = errors.New("sharing: reporting service failed to start")

	// ErrTransientNetwork marks backend failures that are logged only.
	ErrTransientNetwork = errors.New("sharing: transient network failure")

	// ErrTransitionInProgress is returned for a request dropped because
	// another transition is running.
	ErrTransitionInProgress = errors.New("sharing: transition in progress")

	// ErrNotReady is returned before Start has resolved the initial state.
	ErrNotReady = errors.New("sharing: controller not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("sharing: controller already started")
)

// Rejection is returned when a toggle-on is refused. It carries the
// settings page that lets the user fix the cause.
type Rejection struct {
	Err      error
	Settings platform.SettingsTarget
	Message  string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%v: %s", r.Err, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}
