package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// phcVersion is the "v=" field written and accepted; argon2.Version is 0x13.
const phcVersion = "v=19"

var b64 = base64.RawStdEncoding

// storedHash is the decoded form of
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
type storedHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h storedHash) String() string {
	return fmt.Sprintf("$argon2id$%s$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// Hash returns the argon2id hash of password in PHC string form.
//
// The policy is not applied here; user-chosen passwords go through Validate first.
// Empty input and input over Policy.MaxLength are refused so one call's work is bounded.
func (c Config) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordEmpty
	}
	if c.Policy.MaxLength > 0 && utf8.RuneCountInString(password) > c.Policy.MaxLength {
		return "", ErrPasswordTooLong
	}

	h := storedHash{params: c.Params, salt: make([]byte, c.Params.SaltLength)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("password.Hash: salt: %w", err)
	}
	h.key = derive(password, h.salt, h.params, c.Params.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encodedHash. A malformed hash, or one
// whose cost is far above the configured parameters, yields ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := parseStoredHash(encodedHash)
	if err != nil {
		return false, err
	}
	if !c.affordable(h.params) {
		return false, ErrInvalidHash
	}

	got := derive(password, h.salt, h.params, uint32(len(h.key))) // #nosec G115 -- key length is bounded by affordable.
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with weaker parameters
// than the configured ones. Malformed hashes always need a rehash.
func (c Config) NeedsRehash(encodedHash string) bool {
	h, err := parseStoredHash(encodedHash)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength ||
		p.SaltLength < c.Params.SaltLength
}

func derive(password string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// affordable accepts stored hashes up to twice the configured cost, so older
// cheaper hashes still verify while a planted hash cannot demand unbounded work.
func (c Config) affordable(got Argon2idParams) bool {
	limit := c.Params
	switch {
	case got.MemoryKiB > limit.MemoryKiB*2,
		got.Iterations > limit.Iterations*2,
		got.Parallelism > limit.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func parseStoredHash(s string) (storedHash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != phcVersion {
		return storedHash{}, ErrInvalidHash
	}

	mem, it, par, err := parseCost(parts[3])
	if err != nil {
		return storedHash{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return storedHash{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return storedHash{}, ErrInvalidHash
	}

	return storedHash{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: par,
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by the encoded string length.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by the encoded string length.
		},
		salt: salt,
		key:  key,
	}, nil
}

// parseCost reads "m=<mem>,t=<iter>,p=<par>" with the fields in exactly that
// order and nothing else around them. All three must be non-zero.
func parseCost(s string) (mem, it uint32, par uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return 0, 0, 0, ErrInvalidHash
	}

	var vals [3]uint64
	for i, name := range [3]string{"m", "t", "p"} {
		raw, ok := strings.CutPrefix(fields[i], name+"=")
		if !ok {
			return 0, 0, 0, ErrInvalidHash
		}
		bits := 32
		if name == "p" {
			bits = 8
		}
		v, perr := strconv.ParseUint(raw, 10, bits)
		if perr != nil || v == 0 {
			return 0, 0, 0, ErrInvalidHash
		}
		vals[i] = v
	}
	return uint32(vals[0]), uint32(vals[1]), uint8(vals[2]), nil // #nosec G115 -- ParseUint bounded each width.
}
