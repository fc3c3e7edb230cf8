package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(RateLimitConfig{Rate: rate.Every(time.Second), Burst: 2}, false, discardLogger())
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)

	ok, retry := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	// Other clients have their own bucket.
	ok, _ = l.Allow("b")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
}

func TestIPRateLimiter_Prune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(RateLimitConfig{Idle: time.Minute}, false, discardLogger())
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 0, l.Prune())
}

func TestIPRateLimiter_PrunerDropsIdleClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(RateLimitConfig{Idle: time.Minute}, false, discardLogger())
	l.now = func() time.Time { return start }
	l.Allow("a")
	l.Allow("b")

	l.now = func() time.Time { return start.Add(2 * time.Minute) }
	l.StartPruner(5 * time.Millisecond)
	defer l.Stop()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.clients) == 0
	}, time.Second, 5*time.Millisecond)

	l.Stop()
	l.Stop()
}

func TestIPRateLimiter_StopWithoutStart(t *testing.T) {
	l := NewIPRateLimiter(RateLimitConfig{}, false, discardLogger())
	l.Stop()
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	l := NewIPRateLimiter(RateLimitConfig{Rate: rate.Every(time.Hour), Burst: 1}, true, discardLogger())
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		r.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr
	}

	require.Equal(t, http.StatusNoContent, req("203.0.113.1").Code)

	rr := req("203.0.113.1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "Too many requests, please try again later.")

	assert.Equal(t, http.StatusNoContent, req("203.0.113.2").Code)
}
