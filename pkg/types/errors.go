package types

import "errors"

// Validation errors shared across the realtime layer.
var (
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidCallType = errors.New(`call type must be "audio" or "video"`)
	ErrInvalidUserInfo = errors.New("user info requires a non-empty username")
	ErrSelfCall        = errors.New("cannot call yourself")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
)
