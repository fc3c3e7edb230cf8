package authapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneThreshold is the number of tracked clients above which idle limiters are dropped.
const pruneThreshold = 10_000

// RateLimitConfig describes a per-client token bucket.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second.
	Rate rate.Limit
	// Burst is the bucket size.
	Burst int
	// Idle is how long an untouched client limiter is kept.
	Idle time.Duration
}

// DefaultRateLimitConfig allows 100 requests per 15 minutes per client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:  rate.Every(15 * time.Minute / 100),
		Burst: 100,
		Idle:  30 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	cfg        RateLimitConfig
	trustProxy bool
	log        *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewIPRateLimiter returns a limiter keyed by the client IP (see clientIP).
func NewIPRateLimiter(cfg RateLimitConfig, trustProxy bool, log *slog.Logger) *IPRateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if log == nil {
		log = slog.Default()
	}
	return &IPRateLimiter{
		cfg:        cfg,
		trustProxy: trustProxy,
		log:        log,
		now:        time.Now,
		clients:    make(map[string]*clientLimiter),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Allow reports whether key may proceed, and if not, how long until it may.
func (l *IPRateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= pruneThreshold {
			l.pruneLocked(now)
		}
		c = &clientLimiter{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := c.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// Prune drops limiters idle for longer than the configured Idle window.
func (l *IPRateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

// StartPruner prunes idle limiters every interval until Stop is called.
// interval <= 0 uses the Idle window.
func (l *IPRateLimiter) StartPruner(interval time.Duration) {
	if interval <= 0 {
		interval = l.cfg.Idle
	}
	l.startOnce.Do(func() {
		go l.pruneLoop(interval)
	})
}

// Stop ends the prune loop. It is safe to call on a limiter whose pruner never started.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		started := true
		l.startOnce.Do(func() { started = false })
		if started {
			<-l.doneCh
		}
	})
}

func (l *IPRateLimiter) pruneLoop(interval time.Duration) {
	defer close(l.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				l.log.Debug("http.rate_limit.prune", "removed", n)
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) pruneLocked(now time.Time) int {
	n := 0
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.Idle {
			delete(l.clients, k)
			n++
		}
	}
	return n
}

// Middleware rejects over-limit clients with 429 and a Retry-After header.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if ip := clientIP(r, l.trustProxy); ip != nil {
			key = ip.String()
		}

		ok, retryAfter := l.Allow(key)
		if !ok {
			l.log.Warn("http.rate_limited", "ip", key, "path", r.URL.Path)
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later.")
}
