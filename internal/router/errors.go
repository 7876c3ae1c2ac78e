package router

import "errors"

var (
	// ErrUnknownEvent is returned when a frame names an event the
	// router has no handler for.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidPayload wraps payload decode and validation failures.
	ErrInvalidPayload = errors.New("invalid payload")
)
