package internal

import (
	"github.com/google/uuid"
)

// NewSessionID returns a fresh session id. Session ids are UUIDv7 so they sort
// by creation time in logs and audit trails.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ValidSessionID reports whether s parses as a UUID. Session ids received from
// callers are checked before they are used to build store keys.
func ValidSessionID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
