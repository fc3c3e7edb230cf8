package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "session/"

// maxTxnRetries bounds retries of optimistic Badger transactions on ErrConflict.
const maxTxnRetries = 5

// BadgerOptions configures BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is true.
	Dir string
	// InMemory keeps all data in memory (tests, ephemeral deployments).
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCDiscardRatio is passed to RunValueLogGC during DeleteExpired.
	GCDiscardRatio float64
}

// BadgerStore persists sessions in an embedded Badger database.
// Entries carry a native TTL, so Badger drops them even if the sweeper never runs.
type BadgerStore struct {
	db     *badger.DB
	opts   BadgerOptions
	logger *slog.Logger
}

// OpenBadgerStore opens (or creates) the database described by opts.
func OpenBadgerStore(opts BadgerOptions, logger *slog.Logger) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("session: badger dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GCDiscardRatio <= 0 || opts.GCDiscardRatio >= 1 {
		opts.GCDiscardRatio = 0.5
	}

	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(&badgerLogger{logger: logger})
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger: %w", err)
	}

	logger.Info("session.badger.open", "dir", opts.Dir, "in_memory", opts.InMemory)
	return &BadgerStore{db: db, opts: opts, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("session: close badger: %w", err)
	}
	return nil
}

type badgerRecord struct {
	AccountID  int64             `json:"account_id"`
	RememberMe bool              `json:"remember_me"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

func badgerKey(digest string) []byte { return []byte(badgerKeyPrefix + digest) }

func (s *BadgerStore) Put(ctx context.Context, rec Record) error {
	const op = "session.BadgerStore.Put"

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(op, func(txn *badger.Txn) error {
		key := badgerKey(rec.Digest)
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return ErrDuplicateID
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return s.set(txn, key, rec, rec.CreatedAt)
	})
}

func (s *BadgerStore) Get(ctx context.Context, digest string, now time.Time) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	var (
		rec Record
		ok  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, ok, err = s.get(txn, digest, now)
		return err
	})
	if err != nil {
		return Record{}, false, storeErr("session.BadgerStore.Get", err)
	}
	return rec, ok, nil
}

func (s *BadgerStore) Touch(ctx context.Context, digest string, now, expiresAt time.Time) (bool, error) {
	const op = "session.BadgerStore.Touch"

	if err := ctx.Err(); err != nil {
		return false, err
	}

	var touched bool
	err := s.update(op, func(txn *badger.Txn) error {
		touched = false
		rec, ok, err := s.get(txn, digest, now)
		if err != nil || !ok {
			return err
		}
		rec.LastSeenAt = now
		rec.ExpiresAt = expiresAt
		if err := s.set(txn, badgerKey(digest), rec, now); err != nil {
			return err
		}
		touched = true
		return nil
	})
	return touched, err
}

func (s *BadgerStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update("session.BadgerStore.Delete", func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(digest))
	})
}

// DeleteExpired removes expired entries and then reclaims value-log space.
func (s *BadgerStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "session.BadgerStore.DeleteExpired"

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var expired [][]byte
	err := s.scan(func(key []byte, rec badgerRecord) {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, key)
		}
	})
	if err != nil {
		return 0, storeErr(op, err)
	}

	deleted := 0
	for _, key := range expired {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		removed := false
		err := s.update(op, func(txn *badger.Txn) error {
			removed = false
			// Re-check: the session may have been refreshed since the scan.
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			rec, err := decodeBadgerItem(item)
			if err != nil {
				return err
			}
			if now.Before(rec.ExpiresAt) {
				return nil
			}
			removed = true
			return txn.Delete(key)
		})
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}

	s.runGC()
	return deleted, nil
}

func (s *BadgerStore) Count(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.scan(func(_ []byte, rec badgerRecord) {
		if now.Before(rec.ExpiresAt) {
			n++
		}
	})
	if err != nil {
		return 0, storeErr("session.BadgerStore.Count", err)
	}
	return n, nil
}

func (s *BadgerStore) runGC() {
	if s.opts.InMemory {
		return
	}
	for {
		err := s.db.RunValueLogGC(s.opts.GCDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			s.logger.Warn("session.badger.gc.fail", "error", err)
		}
		return
	}
}

// update runs fn in a read-write transaction, retrying optimistic conflicts.
func (s *BadgerStore) update(op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateID):
		return err
	default:
		return storeErr(op, err)
	}
}

func (s *BadgerStore) get(txn *badger.Txn, digest string, now time.Time) (Record, bool, error) {
	item, err := txn.Get(badgerKey(digest))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	br, err := decodeBadgerItem(item)
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{
		Digest:     digest,
		AccountID:  br.AccountID,
		RememberMe: br.RememberMe,
		Data:       br.Data,
		CreatedAt:  br.CreatedAt.UTC(),
		LastSeenAt: br.LastSeenAt.UTC(),
		ExpiresAt:  br.ExpiresAt.UTC(),
	}
	if !rec.activeAt(now) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// set writes rec with a TTL relative to now. Badger's TTL runs on the wall clock;
// ExpiresAt inside the value stays authoritative.
func (s *BadgerStore) set(txn *badger.Txn, key []byte, rec Record, now time.Time) error {
	val, err := json.Marshal(badgerRecord{
		AccountID:  rec.AccountID,
		RememberMe: rec.RememberMe,
		Data:       rec.Data,
		CreatedAt:  rec.CreatedAt,
		LastSeenAt: rec.LastSeenAt,
		ExpiresAt:  rec.ExpiresAt,
	})
	if err != nil {
		return err
	}

	e := badger.NewEntry(key, val)
	if ttl := rec.ExpiresAt.Sub(now); ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

func (s *BadgerStore) scan(fn func(key []byte, rec badgerRecord)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rec, err := decodeBadgerItem(item)
			if err != nil {
				return err
			}
			fn(item.KeyCopy(nil), rec)
		}
		return nil
	})
}

func decodeBadgerItem(item *badger.Item) (badgerRecord, error) {
	var rec badgerRecord
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

var _ Store = (*BadgerStore)(nil)
