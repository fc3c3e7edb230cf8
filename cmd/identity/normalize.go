package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLen bounds usernames in runes.
const MaxUsernameLen = 64

// NormalizeUsername trims surrounding whitespace. Usernames are case-sensitive,
// so no case folding is applied.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}

// ValidateUsername checks an already normalized username.
func ValidateUsername(s string) error {
	const op = "identity.ValidateUsername"

	if s == "" {
		return invalid(op, "username is required")
	}
	if !utf8.ValidString(s) {
		return invalid(op, "username must be valid UTF-8")
	}
	if utf8.RuneCountInString(s) > MaxUsernameLen {
		return invalid(op, "username is too long")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return invalid(op, "username contains control characters")
		}
	}
	return nil
}
