package session

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every failure reported by a session backend.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrDuplicateID is returned by Store.Put when the digest already exists.
	ErrDuplicateID = errors.New("session id already exists")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
