package password

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrent Argon2id computations.
//
// Each hash costs Params.MemoryKiB of memory, so an unbounded burst of logins
// can exhaust the host. Callers wait for a slot for at most the configured
// timeout; once a slot is held the computation runs to completion.
type Limiter struct {
	cfg     Config
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimiter returns a Limiter allowing maxConcurrent computations at a time.
// maxConcurrent <= 0 defaults to GOMAXPROCS; timeout <= 0 disables the wait bound.
func NewLimiter(cfg Config, maxConcurrent int, timeout time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	return &Limiter{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
	}
}

// Config returns the hashing configuration used by the limiter.
func (l *Limiter) Config() Config { return l.cfg }

// HashContext hashes password once a slot is available.
func (l *Limiter) HashContext(ctx context.Context, password string) (string, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return l.cfg.Hash(password)
}

// VerifyContext verifies password against encodedHash once a slot is available.
func (l *Limiter) VerifyContext(ctx context.Context, encodedHash, password string) (bool, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return l.cfg.Verify(encodedHash, password)
}

func (l *Limiter) acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		// Distinguish our own wait bound from the caller giving up.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrHashTimeout
		}
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}
