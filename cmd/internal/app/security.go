package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"gatehouse/cmd/security/token"
)

// resolveSessionKey returns the HMAC key used to digest session, remember-me
// and reset tokens before they are stored.
//
// Production refuses to start without a secret of at least MinSessionSecretLen
// bytes. Development and test fall back to a random per-process key, so all
// sessions are lost on restart.
func resolveSessionKey(cfg Config, log *slog.Logger) ([]byte, error) {
	key, err := token.KeyFromSecret(cfg.SessionSecret, MinSessionSecretLen)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, token.ErrHMACKeyMissing) && !cfg.Production():
		key = make([]byte, MinSessionSecretLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("security policy: generate ephemeral session key: %w", err)
		}
		log.Warn("security.session_secret.ephemeral", "env", cfg.Env)
		return key, nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return nil, errors.New("security policy: session_secret is required in production")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return nil, fmt.Errorf("security policy: session_secret is too short (min %d bytes)", MinSessionSecretLen)
	default:
		return nil, err
	}
}
