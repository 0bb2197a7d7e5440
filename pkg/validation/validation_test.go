package validation

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	valid := []string{"alice", "user_42", "a-b-c", "ABC123"}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Errorf("ValidateUserID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", "  ", "user with spaces", "user@host", strings.Repeat("x", 65)}
	for _, id := range invalid {
		if err := ValidateUserID(id); err == nil {
			t.Errorf("ValidateUserID(%q) = nil, want error", id)
		}
	}
}

func TestValidateRollID(t *testing.T) {
	if err := ValidateRollID("0d4cbe8a-5f2e-4b8b-9c3f-2a1d6e7f8a9b"); err != nil {
		t.Errorf("valid uuid rejected: %v", err)
	}

	invalid := []string{"", "not-a-uuid", "0d4cbe8a5f2e4b8b9c3f2a1d6e7f8a9b"}
	for _, id := range invalid {
		if err := ValidateRollID(id); err == nil {
			t.Errorf("ValidateRollID(%q) = nil, want error", id)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("Alice"); err != nil {
		t.Errorf("valid username rejected: %v", err)
	}
	if err := ValidateUsername(""); err == nil {
		t.Error("empty username accepted")
	}
	if err := ValidateUsername(strings.Repeat("x", 51)); err == nil {
		t.Error("overlong username accepted")
	}
}
