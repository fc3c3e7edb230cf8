// Package identity implements gatehouse's account persistence.
//
// It owns the Account model and the Store boundary used by the auth flows,
// with memory, SQLite and PostgreSQL implementations. Stores never see plain
// passwords or plain tokens: callers hand in argon2id hashes and token digests.
package identity
