// Package session implements gatehouse's server-side sessions.
//
// A session id is an opaque random string handed to the client in a cookie.
// Stores only ever see its digest (see cmd/security/token), so a leaked store
// does not leak usable session ids.
//
// Expiry is rolling: every successful Load pushes ExpiresAt forward by the idle
// TTL, capped at CreatedAt + MaxLifetime. A Sweeper deletes expired sessions
// in the background.
package session
