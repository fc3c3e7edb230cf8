package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultSessionCookieName  = "secureSessionId"
	DefaultRememberCookieName = "rememberMe"
)

// Config controls auth API behavior and cookie attributes.
type Config struct {
	// Production hides internal error messages and marks cookies Secure.
	Production bool

	TrustProxy   bool
	MaxBodyBytes int64

	SessionCookieName  string
	RememberCookieName string
	RememberCookieTTL  time.Duration
	CookieDomain       string
	CookiePath         string
	CookieSameSite     http.SameSite

	// ExposeResetToken includes the plain reset token in the forgot-password
	// response. There is no mail delivery, so this is how the token reaches the user.
	ExposeResetToken bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:       1 << 20, // 1 MiB
		SessionCookieName:  DefaultSessionCookieName,
		RememberCookieName: DefaultRememberCookieName,
		RememberCookieTTL:  30 * 24 * time.Hour,
		CookiePath:         "/",
		CookieSameSite:     http.SameSiteStrictMode,
		ExposeResetToken:   true,
	}
}

// Validate checks the configuration and fills empty fields with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		c.SessionCookieName = def.SessionCookieName
	}
	if strings.TrimSpace(c.RememberCookieName) == "" {
		c.RememberCookieName = def.RememberCookieName
	}
	if c.SessionCookieName == c.RememberCookieName {
		return errors.New("authapi: session and remember-me cookie names must differ")
	}
	if c.RememberCookieTTL <= 0 {
		c.RememberCookieTTL = def.RememberCookieTTL
	}
	if c.CookiePath == "" {
		c.CookiePath = def.CookiePath
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = def.CookieSameSite
	}
	return nil
}
