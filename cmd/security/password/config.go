package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline for interactive logins.
func DefaultConfig() Config {
	// CPU-aware parallelism, clamped to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// Check validates the configuration itself. Callers assembling a Config from
// external sources (flags, env, files) should call it before first use.
func (c Config) Check() error {
	p := c.Params
	if p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024 {
		return fmt.Errorf("argon2 memory_kib out of range [%d..%d]", 8*1024, 1024*1024)
	}
	if p.Iterations < 1 || p.Iterations > 20 {
		return fmt.Errorf("argon2 iterations out of range [1..20]")
	}
	if p.Parallelism < 1 || p.Parallelism > 64 {
		return fmt.Errorf("argon2 parallelism out of range [1..64]")
	}
	if p.SaltLength < 16 || p.SaltLength > 64 {
		return fmt.Errorf("argon2 salt length out of range [16..64]")
	}
	if p.KeyLength < 16 || p.KeyLength > 64 {
		return fmt.Errorf("argon2 key length out of range [16..64]")
	}

	if c.Policy.MinLength < 1 {
		return fmt.Errorf("password policy invalid: min_len(%d) < 1", c.Policy.MinLength)
	}
	if c.Policy.MaxLength < 1 || c.Policy.MaxLength > 4096 {
		return fmt.Errorf("password policy invalid: max_len(%d) out of range [1..4096]", c.Policy.MaxLength)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}
