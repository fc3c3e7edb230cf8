package session

import (
	"context"
	"maps"
	"time"
)

// Record is the persisted form of a session. Digest is the storage key.
type Record struct {
	Digest     string
	AccountID  int64
	RememberMe bool
	Data       map[string]string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

func (r Record) clone() Record {
	r.Data = maps.Clone(r.Data)
	return r
}

func (r Record) activeAt(now time.Time) bool { return now.Before(r.ExpiresAt) }

// Store abstracts persistence for session state.
//
// All backend failures wrap ErrStoreUnavailable.
type Store interface {
	// Put inserts a new record. Returns ErrDuplicateID if the digest exists.
	Put(ctx context.Context, rec Record) error

	// Get returns the record if it exists and is unexpired at now.
	Get(ctx context.Context, digest string, now time.Time) (Record, bool, error)

	// Touch updates LastSeenAt and ExpiresAt of an existing, unexpired record.
	// It never resurrects a deleted or expired record and reports whether a row was updated.
	Touch(ctx context.Context, digest string, now, expiresAt time.Time) (bool, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, digest string) error

	// DeleteExpired removes every record with ExpiresAt <= now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of unexpired records at now.
	Count(ctx context.Context, now time.Time) (int, error)
}
