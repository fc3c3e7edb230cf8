package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Suitable for development and
// single-instance deployments; everything is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recs[rec.Digest]; exists {
		return ErrDuplicateID
	}
	s.recs[rec.Digest] = rec.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, digest string, now time.Time) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[digest]
	if !ok || !rec.activeAt(now) {
		return Record{}, false, nil
	}
	return rec.clone(), true, nil
}

func (s *MemoryStore) Touch(ctx context.Context, digest string, now, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[digest]
	if !ok || !rec.activeAt(now) {
		return false, nil
	}
	rec.LastSeenAt = now
	rec.ExpiresAt = expiresAt
	s.recs[digest] = rec
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.recs, digest)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, rec := range s.recs {
		if !rec.activeAt(now) {
			delete(s.recs, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.recs {
		if rec.activeAt(now) {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
