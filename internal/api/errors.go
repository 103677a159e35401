package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/sharing"
)

// Error represents a structured error response. Settings names the OS
// settings page that fixes the cause, when there is one.
type Error struct {
	Status   int                     `json:"status"`
	Code     string                  `json:"code"`
	Message  string                  `json:"message"`
	Settings platform.SettingsTarget `json:"settings,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"

	ErrCodePermissionDenied     = "permission_denied"
	ErrCodeLocationDisabled     = "location_disabled"
	ErrCodeTransitionInProgress = "transition_in_progress"
	ErrCodeServiceStartFailure  = "service_start_failed"
	ErrCodeNotReady             = "not_ready"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSharingError maps a controller error to a response.
//
//   - rejected toggle: 412 with the settings target
//   - transition in progress: 409
//   - reporting service start failure: 502
//   - controller not started: 503
func writeSharingError(w http.ResponseWriter, err error) {
	var rej *sharing.Rejection
	switch {
	case errors.As(err, &rej):
		code := ErrCodePermissionDenied
		if errors.Is(rej.Err, sharing.ErrSystemLocationDisabled) {
			code = ErrCodeLocationDisabled
		}
		writeJSON(w, http.StatusPreconditionFailed, Error{
			Status:   http.StatusPreconditionFailed,
			Code:     code,
			Message:  rej.Message,
			Settings: rej.Settings,
		})
	case errors.Is(err, sharing.ErrTransitionInProgress):
		writeError(w, http.StatusConflict, ErrCodeTransitionInProgress, "a sharing transition is already in progress")
	case errors.Is(err, sharing.ErrServiceStartFailure):
		writeError(w, http.StatusBadGateway, ErrCodeServiceStartFailure, "location sharing could not be started, please try again")
	case errors.Is(err, sharing.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "sharing is not ready yet")
	default:
		writeInternalError(w, "sharing request failed")
	}
}
