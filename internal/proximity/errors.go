package proximity

import "errors"

var (
	// ErrInvalidRadius is returned for a radius outside the allowed set.
	ErrInvalidRadius = errors.New("proximity: radius not in allowed set")

	// ErrNoOrigin is returned when a refresh is requested before any
	// coordinate is known.
	ErrNoOrigin = errors.New("proximity: no origin coordinate")
)
