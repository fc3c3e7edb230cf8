package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultBytes is the entropy used for every token gatehouse hands out.
const DefaultBytes = 32

// DigestLen is the length of every digest produced by this package.
const DigestLen = sha256.Size * 2

// NewOpaque returns n random bytes encoded as unpadded base64url.
func NewOpaque(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewHex returns n random bytes encoded as lowercase hex.
func NewHex(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func randomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("token: read random: %w", err)
	}
	return b, nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromSecret returns the trimmed secret bytes, enforcing a minimum byte length.
// A blank secret -> ErrHMACKeyMissing. Too short -> ErrHMACKeyTooShort.
func KeyFromSecret(secret string, minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(secret)
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Digester turns tokens into storage digests.
// The zero value uses plain SHA-256.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester keyed with key. A nil or empty key falls back to SHA-256.
func NewDigester(key []byte) Digester {
	if len(key) == 0 {
		return Digester{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Digester{key: k}
}

// Keyed reports whether the digester uses HMAC.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the 64-char hex digest of tok.
func (d Digester) Digest(tok string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, d.key)
}

// Matches reports whether tok hashes to digest, in constant time.
func (d Digester) Matches(tok, digest string) bool {
	return Equal(d.Digest(tok), digest)
}

// Equal compares two digests in constant time. Digests of the wrong length never match.
func Equal(a, b string) bool {
	if len(a) != DigestLen || len(b) != DigestLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
