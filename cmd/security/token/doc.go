// Package token provides opaque token generation and token hashing primitives for gatehouse.
//
// It is the single source of truth for how session ids, password-reset tokens
// and remember-me tokens are generated and stored.
//
// Design goals:
// - Tokens carry at least 256 bits of entropy from crypto/rand.
// - Only digests are persisted: HMAC-SHA256(token, key) when a key is configured,
//   SHA-256(token) otherwise (development only).
// - Stable 64-char hex output for storage and constant-time comparison.
package token
