package interfaces

import "errors"

// Sentinel errors returned by Store implementations so callers can
// branch without depending on driver error types.
var (
	ErrNotFound  = errors.New("document not found")
	ErrNotMember = errors.New("user is not a member of this channel")
	ErrNotOwner  = errors.New("user does not own this document")
)
