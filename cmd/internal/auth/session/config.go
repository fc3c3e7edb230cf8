package session

import (
	"fmt"
	"time"

	"gatehouse/cmd/security/token"
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// IdleTTL is how long a session lives without activity.
	IdleTTL time.Duration

	// RememberTTL replaces IdleTTL for remember-me sessions.
	RememberTTL time.Duration

	// MaxLifetime caps rolling refresh: no session outlives CreatedAt + MaxLifetime.
	MaxLifetime time.Duration

	// SweepInterval is the period of the background sweeper.
	SweepInterval time.Duration

	// IDBytes is the entropy of generated session ids.
	IDBytes int
}

// DefaultConfig uses a 24h rolling session and a 30 day remember-me window.
func DefaultConfig() Config {
	return Config{
		IdleTTL:       24 * time.Hour,
		RememberTTL:   30 * 24 * time.Hour,
		MaxLifetime:   30 * 24 * time.Hour,
		SweepInterval: time.Hour,
		IDBytes:       token.DefaultBytes,
	}
}

// Validate returns ErrConfig (wrapped with detail) when cfg is unusable.
func (c Config) Validate() error {
	switch {
	case c.IdleTTL <= 0:
		return fmt.Errorf("%w: idle ttl must be positive", ErrConfig)
	case c.RememberTTL < c.IdleTTL:
		return fmt.Errorf("%w: remember ttl must be >= idle ttl", ErrConfig)
	case c.MaxLifetime < c.RememberTTL:
		return fmt.Errorf("%w: max lifetime must be >= remember ttl", ErrConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep interval must be positive", ErrConfig)
	case c.IDBytes < 16 || c.IDBytes > 64:
		return fmt.Errorf("%w: id bytes out of range [16..64]", ErrConfig)
	}
	return nil
}

func (c Config) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		return c.RememberTTL
	}
	return c.IdleTTL
}
