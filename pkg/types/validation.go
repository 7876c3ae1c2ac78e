package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
// The 1-50 character limit keeps ids usable as room names.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidCallType reports whether t is one of the two allowed call kinds.
func IsValidCallType(t string) bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Valid reports whether the user info carries a non-empty display name.
func (u UserInfo) Valid() bool {
	return strings.TrimSpace(u.Username) != ""
}
