package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "GATEHOUSE_"

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Session store kinds.
const (
	SessionStoreAuto   = "auto"
	SessionStoreMemory = "memory"
	SessionStoreSQL    = "sql"
	SessionStoreBadger = "badger"
)

// MinSessionSecretLen is the minimum session secret length in bytes.
const MinSessionSecretLen = 32

// Config contains all runtime configuration.
type Config struct {
	Env       string `koanf:"env"`
	HTTPAddr  string `koanf:"http_addr"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	ReadHeaderTimeout time.Duration `koanf:"http_read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"http_read_timeout"`
	WriteTimeout      time.Duration `koanf:"http_write_timeout"`
	IdleTimeout       time.Duration `koanf:"http_idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"http_shutdown_timeout"`
	MaxHeaderBytes    int           `koanf:"http_max_header_bytes"`

	// DatabaseURL selects the account store: empty keeps everything in memory,
	// "sqlite:<path>" opens SQLite, "postgres://..." connects to PostgreSQL.
	DatabaseURL      string        `koanf:"database_url"`
	DBMaxConns       int32         `koanf:"db_max_conns"`
	DBMinConns       int32         `koanf:"db_min_conns"`
	DBConnectTimeout time.Duration `koanf:"db_connect_timeout"`
	// ReadinessRequireDB makes /readyz fail unless a database is configured.
	ReadinessRequireDB bool `koanf:"readiness_require_db"`

	SessionSecret        string        `koanf:"session_secret"`
	SessionStore         string        `koanf:"session_store"`
	SessionBadgerDir     string        `koanf:"session_badger_dir"`
	SessionIdleTTL       time.Duration `koanf:"session_idle_ttl"`
	SessionRememberTTL   time.Duration `koanf:"session_remember_ttl"`
	SessionMaxLifetime   time.Duration `koanf:"session_max_lifetime"`
	SessionSweepInterval time.Duration `koanf:"session_sweep_interval"`

	ResetTokenTTL        time.Duration `koanf:"reset_token_ttl"`
	ResetTokenBytes      int           `koanf:"reset_token_bytes"`
	ForgotPasswordStrict bool          `koanf:"forgot_password_strict"`
	// ExposeResetToken defaults to true outside production.
	ExposeResetToken bool `koanf:"expose_reset_token"`

	CookieDomain   string  `koanf:"cookie_domain"`
	TrustProxy     bool    `koanf:"trust_proxy"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
	MaxBodyBytes   int64   `koanf:"max_body_bytes"`

	HashMaxConcurrent int           `koanf:"hash_max_concurrent"`
	HashTimeout       time.Duration `koanf:"hash_timeout"`
	Argon2MemoryKiB   uint32        `koanf:"argon2_memory_kib"`
	Argon2Iterations  uint32        `koanf:"argon2_iterations"`
	Argon2Parallelism uint8         `koanf:"argon2_parallelism"`
	PasswordMinLen    int           `koanf:"password_min_len"`
	PasswordMaxLen    int           `koanf:"password_max_len"`
}

// defaults returns the built-in configuration as a flat koanf map.
func defaults() map[string]any {
	pw := password.DefaultConfig()
	sc := session.DefaultConfig()

	return map[string]any{
		"env":        EnvDevelopment,
		"http_addr":  "0.0.0.0:5000",
		"log_level":  "info",
		"log_format": "auto",

		"http_read_header_timeout": 5 * time.Second,
		"http_read_timeout":        15 * time.Second,
		"http_write_timeout":       15 * time.Second,
		"http_idle_timeout":        60 * time.Second,
		"http_shutdown_timeout":    10 * time.Second,
		"http_max_header_bytes":    1 << 20,

		"database_url":         "",
		"db_max_conns":         10,
		"db_min_conns":         0,
		"db_connect_timeout":   30 * time.Second,
		"readiness_require_db": false,

		"session_secret":         "",
		"session_store":          SessionStoreAuto,
		"session_badger_dir":     "",
		"session_idle_ttl":       sc.IdleTTL,
		"session_remember_ttl":   sc.RememberTTL,
		"session_max_lifetime":   sc.MaxLifetime,
		"session_sweep_interval": sc.SweepInterval,

		"reset_token_ttl":        time.Hour,
		"reset_token_bytes":      32,
		"forgot_password_strict": false,

		"cookie_domain":    "",
		"trust_proxy":      false,
		"rate_limit_rps":   100.0 / (15 * 60),
		"rate_limit_burst": 100,
		"max_body_bytes":   1 << 20,

		"hash_max_concurrent": 0,
		"hash_timeout":        5 * time.Second,
		"argon2_memory_kib":   pw.Params.MemoryKiB,
		"argon2_iterations":   pw.Params.Iterations,
		"argon2_parallelism":  pw.Params.Parallelism,
		"password_min_len":    pw.Policy.MinLength,
		"password_max_len":    pw.Policy.MaxLength,
	}
}

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// File is an optional YAML file.
	File string
	// Flags are applied last; only flags changed on the command line override
	// earlier sources. Flag names use dashes ("http-addr" sets http_addr).
	Flags *pflag.FlagSet
	// Environ overrides the process environment (tests). Entries are KEY=VALUE.
	Environ []string
}

// Load builds the configuration with precedence flags > env > file > defaults.
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", opts.File, err)
		}
	}
	if err := loadEnv(k, opts.Environ); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if opts.Flags != nil {
		p := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "config" {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if !k.Exists("expose_reset_token") {
		cfg.ExposeResetToken = cfg.Env != EnvProduction
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadEnv maps GATEHOUSE_HTTP_ADDR to http_addr. Keys are flat, so underscores are kept.
func loadEnv(k *koanf.Koanf, environ []string) error {
	transform := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if environ == nil {
		return k.Load(env.Provider(EnvPrefix, ".", transform), nil)
	}

	m := make(map[string]any)
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		m[transform(key)] = val
	}
	return k.Load(confmap.Provider(m, "."), nil)
}

// Production reports whether the server runs in production mode.
func (c Config) Production() bool { return c.Env == EnvProduction }

// Validate enforces the startup rules. Production requires a strong session secret.
func (c Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("env must be one of development, production, test (got %q)", c.Env))
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}

	secret := strings.TrimSpace(c.SessionSecret)
	switch {
	case c.Production() && secret == "":
		errs = append(errs, errors.New("session_secret is required in production"))
	case secret != "" && len(secret) < MinSessionSecretLen:
		errs = append(errs, fmt.Errorf("session_secret must be at least %d characters long", MinSessionSecretLen))
	}

	switch c.SessionStore {
	case SessionStoreAuto, SessionStoreMemory, SessionStoreBadger:
	case SessionStoreSQL:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("session_store=sql requires database_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("session_store must be one of auto, memory, sql, badger (got %q)", c.SessionStore))
	}

	if _, err := parseDatabaseURL(c.DatabaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		errs = append(errs, errors.New("db_min_conns/db_max_conns out of range"))
	}

	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("reset_token_ttl must be positive"))
	}
	if c.ResetTokenBytes < 16 {
		errs = append(errs, errors.New("reset_token_bytes must be at least 16"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate_limit_rps and rate_limit_burst must not be negative"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.HashMaxConcurrent < 0 {
		errs = append(errs, errors.New("hash_max_concurrent must not be negative"))
	}
	if err := c.PasswordConfig().Check(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PasswordConfig derives the hashing and policy configuration.
func (c Config) PasswordConfig() password.Config {
	pc := password.DefaultConfig()
	pc.Params.MemoryKiB = c.Argon2MemoryKiB
	pc.Params.Iterations = c.Argon2Iterations
	pc.Params.Parallelism = c.Argon2Parallelism
	pc.Policy.MinLength = c.PasswordMinLen
	pc.Policy.MaxLength = c.PasswordMaxLen
	return pc
}

// SessionConfig derives the session manager configuration.
func (c Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.IdleTTL = c.SessionIdleTTL
	sc.RememberTTL = c.SessionRememberTTL
	sc.MaxLifetime = c.SessionMaxLifetime
	sc.SweepInterval = c.SessionSweepInterval
	return sc
}
