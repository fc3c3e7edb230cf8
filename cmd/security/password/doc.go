// Package password provides password hashing, verification and policy checks for gatehouse.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Configurable Argon2id parameters
// - Password policy validation (length and character classes)
// - Strict hash decoding and verification with anti-DoS bounds
// - A Limiter that bounds concurrent hashing work
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses hashes with parameters that exceed reasonable bounds.
package password
