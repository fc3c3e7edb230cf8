package password

import (
	"errors"
	"testing"
)

func TestValidate_Rules(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		pw   string
		want error
	}{
		{"empty", "", ErrPasswordEmpty},
		{"too short", "abc", ErrPasswordTooShort},
		{"seven chars", "Aa1!aaa", ErrPasswordTooShort},
		{"no uppercase", "alllowercase1!", ErrPasswordMissingUpper},
		{"no lowercase", "ALLUPPERCASE1!", ErrPasswordMissingLower},
		{"no digit", "NoDigitsHere!", ErrPasswordMissingDigit},
		{"no symbol", "NoSymbols123", ErrPasswordMissingSymbol},
		{"minimal ok", "Aa1!aaaa", nil},
		{"backslash symbol", `Aa1\aaaa`, nil},
		{"backtick is not a symbol", "Aa1`aaaa", ErrPasswordMissingSymbol},
		{"non-ASCII letters only", "Éé1!éééé", ErrPasswordMissingUpper},
		{"non-ASCII lowercase", "AÉé1!ééé", ErrPasswordMissingLower},
		{"non-ASCII digit", "Aa١!aaaa", ErrPasswordMissingDigit},
		{"non-ASCII extras allowed", "Aa1!ééé日本", nil},
	}

	for _, tc := range tests {
		err := cfg.Validate(tc.pw)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s: expected ok, got %v", tc.name, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !IsPolicyError(err) {
			t.Fatalf("%s: expected a PolicyError, got %T", tc.name, err)
		}
	}
}

func TestValidate_Messages(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Validate("").Error(); got != "Password cannot be empty" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := cfg.Validate("abc").Error(); got != "Password must be at least 8 characters long" {
		t.Fatalf("unexpected message: %q", got)
	}
	want := "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	if got := cfg.Validate("alllowercase1!").Error(); got != want {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("Sh0rt!pw"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("Th1s!password-is-too-long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("G00d!passw0rd"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidate_CountsRunes(t *testing.T) {
	cfg := DefaultConfig()

	// Seven runes, more than eight bytes.
	if err := cfg.Validate("Ää1!ääá"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true

	if err := cfg.Validate("Password1!"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("Qwerty12#"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("Tr0ub4dor&3"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
