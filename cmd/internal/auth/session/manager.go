package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"gatehouse/cmd/security/token"
)

// Session is the caller-facing view of a live session.
// ID is the plain opaque id; it is never persisted.
type Session struct {
	ID         string
	AccountID  int64
	RememberMe bool
	Data       map[string]string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Options tune a new session.
type Options struct {
	RememberMe bool
	Data       map[string]string
}

// Manager creates, loads, refreshes and destroys sessions.
type Manager struct {
	cfg      Config
	store    Store
	digester token.Digester
	now      func() time.Time
	log      *slog.Logger
	metrics  *Metrics
}

// Option configures a Manager.
type Option func(*Manager) error

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return errors.New("session: nil clock")
		}
		m.now = now
		return nil
	}
}

// WithLogger sets the logger used for background and best-effort paths.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) error {
		if log != nil {
			m.log = log
		}
		return nil
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) error {
		m.metrics = metrics
		return nil
	}
}

// NewManager constructs a Manager over store.
func NewManager(store Store, digester token.Digester, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		digester: digester,
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// Create allocates a fresh session for accountID.
func (m *Manager) Create(ctx context.Context, accountID int64, opts Options) (Session, error) {
	const op = "session.Create"

	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if accountID <= 0 {
		return Session{}, fmt.Errorf("%s: invalid account id", op)
	}

	now := m.now().UTC()
	rec := Record{
		AccountID:  accountID,
		RememberMe: opts.RememberMe,
		Data:       maps.Clone(opts.Data),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  m.expiry(now, now, opts.RememberMe),
	}

	// A digest collision on 256 bits of entropy means the random source is broken;
	// one retry keeps a transient duplicate from surfacing as a failure.
	for attempt := 0; attempt < 2; attempt++ {
		id, err := token.NewOpaque(m.cfg.IDBytes)
		if err != nil {
			return Session{}, fmt.Errorf("%s: %w", op, err)
		}
		rec.Digest = m.digester.Digest(id)

		err = m.store.Put(ctx, rec)
		if errors.Is(err, ErrDuplicateID) {
			continue
		}
		if err != nil {
			return Session{}, err
		}

		m.metrics.incCreated()
		return toSession(id, rec), nil
	}
	return Session{}, fmt.Errorf("%s: %w", op, ErrDuplicateID)
}

// Load resolves id to a live session and refreshes its expiry.
//
// It reports (Session{}, false, nil) when the id is unknown, expired, or was
// destroyed concurrently; a destroy always wins over a refresh.
func (m *Manager) Load(ctx context.Context, id string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, false, nil
	}

	now := m.now().UTC()
	digest := m.digester.Digest(id)

	rec, ok, err := m.store.Get(ctx, digest, now)
	if err != nil || !ok {
		return Session{}, false, err
	}

	exp := m.expiry(rec.CreatedAt, now, rec.RememberMe)
	touched, err := m.store.Touch(ctx, digest, now, exp)
	if err != nil {
		return Session{}, false, err
	}
	if !touched {
		return Session{}, false, nil
	}

	rec.LastSeenAt = now
	rec.ExpiresAt = exp
	return toSession(id, rec), true, nil
}

// Destroy deletes the session. Unknown ids are not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, m.digester.Digest(id)); err != nil {
		return err
	}
	m.metrics.incDestroyed()
	return nil
}

// Sweep deletes all expired sessions and refreshes the active gauge.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UTC()

	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	m.metrics.addSwept(n)

	if m.metrics != nil {
		active, err := m.store.Count(ctx, now)
		if err != nil {
			m.log.Warn("session.sweep.count.fail", "error", err)
		} else {
			m.metrics.setActive(active)
		}
	}
	return n, nil
}

// expiry computes the rolling expiry for a session created at createdAt and seen at now.
func (m *Manager) expiry(createdAt, now time.Time, rememberMe bool) time.Time {
	exp := now.Add(m.cfg.ttl(rememberMe))
	if limit := createdAt.Add(m.cfg.MaxLifetime); exp.After(limit) {
		exp = limit
	}
	return exp
}

func toSession(id string, rec Record) Session {
	return Session{
		ID:         id,
		AccountID:  rec.AccountID,
		RememberMe: rec.RememberMe,
		Data:       maps.Clone(rec.Data),
		CreatedAt:  rec.CreatedAt,
		LastSeenAt: rec.LastSeenAt,
		ExpiresAt:  rec.ExpiresAt,
	}
}
