// Package app wires the gatehouse server runtime: config, logging, storage, HTTP routes
// and background session sweeping.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	authapi "gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/flow"
	"gatehouse/cmd/internal/auth/reset"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

// App is the gatehouse server runtime. It owns the storage backends, the
// session sweeper and the HTTP handler chain.
type App struct {
	cfg Config
	log *slog.Logger

	db       *backends
	sessions *session.Manager
	sweeper  *session.Sweeper
	auth     *authapi.Handler
	limiter  *authapi.IPRateLimiter

	handler http.Handler
}

// New constructs a fully wired App from config. Close releases its resources
// when Run is not used.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.Production())
	}

	key, err := resolveSessionKey(cfg, log)
	if err != nil {
		return nil, err
	}
	digester := token.NewDigester(key)

	db, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = db.Close()
		}
	}()

	reg := newRegistry()

	sessions, err := session.NewManager(db.sessions, digester, cfg.SessionConfig(),
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	resets, err := reset.NewService(db.accounts, digester,
		reset.WithTTL(cfg.ResetTokenTTL),
		reset.WithTokenBytes(cfg.ResetTokenBytes),
	)
	if err != nil {
		return nil, err
	}

	hasher := password.NewLimiter(cfg.PasswordConfig(), cfg.HashMaxConcurrent, cfg.HashTimeout)

	ctl, err := flow.NewController(db.accounts, sessions, resets, hasher,
		flow.WithLogger(log),
		flow.WithStrictForgotPassword(cfg.ForgotPasswordStrict),
		flow.WithDigester(digester),
	)
	if err != nil {
		return nil, err
	}

	apiCfg := authapi.DefaultConfig()
	apiCfg.Production = cfg.Production()
	apiCfg.TrustProxy = cfg.TrustProxy
	apiCfg.MaxBodyBytes = cfg.MaxBodyBytes
	apiCfg.CookieDomain = cfg.CookieDomain
	apiCfg.RememberCookieTTL = cfg.SessionRememberTTL
	apiCfg.ExposeResetToken = cfg.ExposeResetToken

	auth, err := authapi.NewHandler(log, ctl, apiCfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		sessions: sessions,
		sweeper:  session.NewSweeper(sessions, cfg.SessionSweepInterval, log),
		auth:     auth,
	}
	a.handler = a.routes(reg)

	log.Info("app.ready",
		"env", cfg.Env,
		"db", db.kind.String(),
		"session_store", cfg.SessionStore,
		"token_digest_keyed", digester.Keyed(),
		"reset_token_ttl", resets.TTL(),
		"expose_reset_token", cfg.ExposeResetToken,
	)

	ok = true
	return a, nil
}

// Handler returns the complete HTTP handler chain.
func (a *App) Handler() http.Handler { return a.handler }

// Close stops the background loops and releases storage resources.
func (a *App) Close() error {
	a.sweeper.Stop()
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return a.db.Close()
}

// Run starts the HTTP server, the session sweeper and the rate limiter pruner and blocks until context
// cancellation or a fatal server error. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	a.sweeper.Start()
	if a.limiter != nil {
		a.limiter.StartPruner(a.cfg.SessionSweepInterval)
	}
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db", a.db.kind.String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
