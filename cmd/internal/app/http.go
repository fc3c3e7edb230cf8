package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	authapi "gatehouse/cmd/internal/auth/api"
)

// routes builds the full handler chain: probes, metrics and the auth API.
func (a *App) routes(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.db.ping == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.db.ping != nil {
			if err := a.db.ping(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", metricsHandler(reg))

	api := http.NewServeMux()
	a.auth.Register(api)

	var apiHandler http.Handler = api
	if a.cfg.RateLimitRPS > 0 {
		a.limiter = authapi.NewIPRateLimiter(authapi.RateLimitConfig{
			Rate:  rate.Limit(a.cfg.RateLimitRPS),
			Burst: a.cfg.RateLimitBurst,
		}, a.cfg.TrustProxy, a.log)
		apiHandler = a.limiter.Middleware(api)
	}
	mux.Handle("/api/", apiHandler)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	h = WithRequestLogging(h, a.log, newHTTPMetrics(reg))
	return h
}
