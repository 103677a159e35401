package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient is a failure that the next attempt may not see.
	ErrTransient = errors.New("backend: transient failure")

	// ErrUnauthorized means the session token was refused.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrRejected means the request itself was refused.
	ErrRejected = errors.New("backend: request rejected")

	// ErrInvalidSession means the session token could not be parsed.
	ErrInvalidSession = errors.New("backend: invalid session token")
)

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Op     string
	Status int
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func classifyStatus(op string, status int) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrUnauthorized
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		kind = ErrTransient
	default:
		kind = ErrRejected
	}
	return &StatusError{Op: op, Status: status, kind: kind}
}
