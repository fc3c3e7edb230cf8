package password

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Symbols is the set of characters that satisfy the special-character rule.
const Symbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"

const classesMessage = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"

// Validate checks password policy. It does not mutate input.
//
// The checks run in a fixed order (empty, length, character classes, weak patterns)
// so the first violation is always the one reported.
func (c Config) Validate(password string) error {
	if password == "" {
		return &PolicyError{Rule: ErrPasswordEmpty, Message: "Password cannot be empty"}
	}

	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return &PolicyError{
			Rule:    ErrPasswordTooShort,
			Message: fmt.Sprintf("Password must be at least %d characters long", c.Policy.MinLength),
		}
	}
	if c.Policy.MaxLength > 0 && n > c.Policy.MaxLength {
		return &PolicyError{
			Rule:    ErrPasswordTooLong,
			Message: fmt.Sprintf("Password must be at most %d characters long", c.Policy.MaxLength),
		}
	}

	if rule := missingClass(password); rule != nil {
		return &PolicyError{Rule: rule, Message: classesMessage}
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return &PolicyError{Rule: ErrWeakPassword, Message: "Password is too easy to guess"}
	}

	return nil
}

// missingClass reports the first absent character class. Letters and digits
// count only in their ASCII ranges.
func missingClass(pw string) error {
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return ErrPasswordMissingUpper
	case !lower:
		return ErrPasswordMissingLower
	case !digit:
		return ErrPasswordMissingDigit
	case !symbol:
		return ErrPasswordMissingSymbol
	}
	return nil
}

// looksVeryWeak is minimal and conservative.
// It is not a full zxcvbn-style estimator (non-goal).
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	// Reject if all same char.
	allSame := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Common passwords dressed up to pass the class rules.
	lower := strings.ToLower(s)
	for _, base := range []string{"password", "qwerty", "letmein", "welcome", "admin"} {
		if strings.HasPrefix(lower, base) && len(lower)-len(base) <= 4 {
			return true
		}
	}

	return false
}
