package reporter

import "errors"

var (
	// ErrStartFailed means the reporting child could not be launched.
	ErrStartFailed = errors.New("reporter: service start failed")

	// ErrNoUser is returned by Start without a user id.
	ErrNoUser = errors.New("reporter: user id required")

	// ErrSkipped means a tick produced no upload (provider disabled or
	// rate limited). It is informational.
	ErrSkipped = errors.New("reporter: report skipped")
)
