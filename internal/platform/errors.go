package platform

import (
	"context"
	"errors"
)

// Classified OS failures. Bridge implementations translate every failure
// into one of these; nothing else leaves the platform boundary.
var (
	// ErrProviderDisabled means the device location service is switched off.
	ErrProviderDisabled = errors.New("platform: location provider disabled")

	// ErrPermissionDenied means the app lacks the permission for the call.
	ErrPermissionDenied = errors.New("platform: permission denied")

	// ErrTimeout means no answer arrived before the deadline.
	ErrTimeout = errors.New("platform: timed out")

	// ErrUnavailable covers everything else (no fix, shim offline, bad reply).
	ErrUnavailable = errors.New("platform: unavailable")
)

// Wire codes used by the device shim.
const (
	CodeProviderDisabled = "provider_disabled"
	CodePermissionDenied = "permission_denied"
	CodeTimeout          = "timeout"
	CodeUnavailable      = "unavailable"
)

// ParseErrorCode maps a shim error code to its sentinel. Unknown codes
// are ErrUnavailable.
func ParseErrorCode(code string) error {
	switch code {
	case CodeProviderDisabled:
		return ErrProviderDisabled
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}

// Classify maps an arbitrary error onto the sentinel set. Context
// deadlines become ErrTimeout.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProviderDisabled),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}
