package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// RollIDRegex validates speed roll ID format (uuid)
	RollIDRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)
)

// ValidateUserID validates a directory user ID.
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("user id is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateUsername validates a display name.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	return nil
}

// ValidateRollID validates a speed roll identifier.
func ValidateRollID(id string) error {
	if id == "" {
		return fmt.Errorf("roll id is required")
	}
	if !RollIDRegex.MatchString(id) {
		return fmt.Errorf("invalid roll id format")
	}
	return nil
}
