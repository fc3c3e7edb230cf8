// Package flow implements the authentication state machines: register, login,
// logout, forgot-password, reset-password and current-user.
//
// The Controller owns no locks. Conflicting writes are serialized by the stores
// (unique constraints and conditional updates), and each operation runs its
// steps strictly in order.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/reset"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

const defaultRememberMeBytes = 32

// dummyPassword is verified against when the username is unknown, so both
// login failures spend one argon2id derivation.
const dummyPassword = "gatehouse-dummy-password"

// Result is returned by operations that establish a session.
type Result struct {
	Account identity.Account
	Session session.Session
	// RememberMeToken is the plain remember-me token, set only when requested on login.
	RememberMeToken string
}

// ResetIssued is returned by ForgotPassword.
// Issued is false when strict mode suppressed the token for an unknown user.
type ResetIssued struct {
	Issued    bool
	Token     string
	ExpiresAt time.Time
}

// Controller orchestrates the account store, hasher, reset tokens and sessions.
type Controller struct {
	accounts identity.Store
	sessions *session.Manager
	resets   *reset.Service
	hasher   *password.Limiter
	digester token.Digester
	log      *slog.Logger

	strictForgot  bool
	rememberBytes int
	dummyHash     string
}

// Option configures a Controller.
type Option func(*Controller) error

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// WithStrictForgotPassword makes ForgotPassword report success without a token
// for unknown usernames, so the route cannot be used to enumerate accounts.
func WithStrictForgotPassword(strict bool) Option {
	return func(c *Controller) error {
		c.strictForgot = strict
		return nil
	}
}

// WithDigester sets the digester used for remember-me tokens.
func WithDigester(d token.Digester) Option {
	return func(c *Controller) error {
		c.digester = d
		return nil
	}
}

// NewController wires a Controller. It hashes a dummy password once so unknown
// users can be verified with the same cost parameters as real ones.
func NewController(
	accounts identity.Store,
	sessions *session.Manager,
	resets *reset.Service,
	hasher *password.Limiter,
	opts ...Option,
) (*Controller, error) {
	if accounts == nil || sessions == nil || resets == nil || hasher == nil {
		return nil, errors.New("flow: missing dependency")
	}

	c := &Controller{
		accounts:      accounts,
		sessions:      sessions,
		resets:        resets,
		hasher:        hasher,
		log:           slog.Default(),
		rememberBytes: defaultRememberMeBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	dummy, err := hasher.Config().Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("flow: dummy hash: %w", err)
	}
	c.dummyHash = dummy
	return c, nil
}

// Register creates an account and signs it in.
func (c *Controller) Register(ctx context.Context, username, pw string) (Result, error) {
	const op = "flow.Register"

	username = identity.NormalizeUsername(username)
	if username == "" || pw == "" {
		return Result{}, invalidField("", "Username and password are required", nil)
	}
	if err := identity.ValidateUsername(username); err != nil {
		return Result{}, invalidField("username", usernameMessage(err), err)
	}

	_, exists, err := c.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return Result{}, storeFailure(op, err)
	}
	if exists {
		return Result{}, ErrDuplicateUsername
	}

	if err := c.hasher.Config().Validate(pw); err != nil {
		return Result{}, invalidField("password", err.Error(), err)
	}

	hash, err := c.hash(ctx, pw)
	if err != nil {
		return Result{}, err
	}

	acc, err := c.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		switch {
		case identity.IsDuplicateUsername(err):
			return Result{}, ErrDuplicateUsername
		case identity.IsInvalidInput(err):
			return Result{}, invalidField("username", usernameMessage(err), err)
		}
		return Result{}, storeFailure(op, err)
	}

	sess, err := c.sessions.Create(ctx, acc.ID, session.Options{})
	if err != nil {
		c.log.Error("auth.register.issue_session.fail", "account_id", acc.ID, "error", err)
		return Result{}, storeFailure(op, err)
	}

	c.log.Info("auth.register.ok", "account_id", acc.ID)
	return Result{Account: acc, Session: sess}, nil
}

// Login verifies credentials and establishes a session. Unknown usernames and
// wrong passwords fail identically with ErrInvalidCredentials.
func (c *Controller) Login(ctx context.Context, username, pw string, rememberMe bool) (Result, error) {
	const op = "flow.Login"

	username = identity.NormalizeUsername(username)
	if username == "" || pw == "" {
		return Result{}, invalidField("", "Username and password are required", nil)
	}

	acc, ok, err := c.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return Result{}, storeFailure(op, err)
	}
	if !ok {
		if _, err := c.verify(ctx, c.dummyHash, pw); err != nil {
			return Result{}, err
		}
		return Result{}, ErrInvalidCredentials
	}

	match, err := c.verify(ctx, acc.PasswordHash, pw)
	if err != nil {
		return Result{}, err
	}
	if !match {
		c.log.Info("auth.login.reject", "account_id", acc.ID)
		return Result{}, ErrInvalidCredentials
	}

	if c.hasher.Config().NeedsRehash(acc.PasswordHash) {
		acc = c.upgradeHash(ctx, acc, pw)
	}

	var remember string
	if rememberMe {
		remember, err = token.NewHex(c.rememberBytes)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		acc, err = c.accounts.UpdateAccount(ctx, acc.ID, identity.AccountPatch{
			RememberMeToken: identity.SetTo(c.digester.Digest(remember)),
		})
		if err != nil {
			return Result{}, storeFailure(op, err)
		}
	}

	sess, err := c.sessions.Create(ctx, acc.ID, session.Options{RememberMe: rememberMe})
	if err != nil {
		c.log.Error("auth.login.issue_session.fail", "account_id", acc.ID, "error", err)
		return Result{}, storeFailure(op, err)
	}

	c.log.Info("auth.login.ok", "account_id", acc.ID, "remember_me", rememberMe)
	return Result{Account: acc, Session: sess, RememberMeToken: remember}, nil
}

// Logout destroys the session. It succeeds whether or not the session exists.
func (c *Controller) Logout(ctx context.Context, sessionID string) error {
	if err := c.sessions.Destroy(ctx, sessionID); err != nil {
		return storeFailure("flow.Logout", err)
	}
	return nil
}

// ForgotPassword issues a reset token for username. The plain token is
// returned to the caller and must be delivered out of band.
func (c *Controller) ForgotPassword(ctx context.Context, username string) (ResetIssued, error) {
	const op = "flow.ForgotPassword"

	username = identity.NormalizeUsername(username)
	if username == "" {
		return ResetIssued{}, invalidField("username", "Username is required", nil)
	}

	acc, ok, err := c.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return ResetIssued{}, storeFailure(op, err)
	}
	if !ok {
		if c.strictForgot {
			return ResetIssued{}, nil
		}
		return ResetIssued{}, ErrNotFound
	}

	issued, err := c.resets.Issue(ctx, acc.ID)
	if err != nil {
		return ResetIssued{}, storeFailure(op, err)
	}

	c.log.Info("auth.forgot_password.issued", "account_id", acc.ID, "expires_at", issued.ExpiresAt)
	return ResetIssued{Issued: true, Token: issued.Token, ExpiresAt: issued.ExpiresAt}, nil
}

// ResetPassword redeems tok and sets newPassword. The policy is checked before
// the token so a weak password never burns a valid token.
func (c *Controller) ResetPassword(ctx context.Context, tok, newPassword string) error {
	const op = "flow.ResetPassword"

	if tok == "" || newPassword == "" {
		return invalidField("", "Token and new password are required", nil)
	}
	if err := c.hasher.Config().Validate(newPassword); err != nil {
		return invalidField("password", err.Error(), err)
	}

	acc, ok, err := c.resets.Validate(ctx, tok)
	if err != nil {
		return storeFailure(op, err)
	}
	if !ok {
		return ErrInvalidOrExpiredToken
	}

	hash, err := c.hash(ctx, newPassword)
	if err != nil {
		return err
	}

	if _, err := c.resets.Consume(ctx, acc, hash); err != nil {
		if errors.Is(err, reset.ErrTokenInvalid) {
			return ErrInvalidOrExpiredToken
		}
		return storeFailure(op, err)
	}

	c.log.Info("auth.reset_password.ok", "account_id", acc.ID)
	return nil
}

// CurrentUser resolves the account behind sessionID. A session whose account
// no longer exists is destroyed.
func (c *Controller) CurrentUser(ctx context.Context, sessionID string) (identity.Account, session.Session, error) {
	const op = "flow.CurrentUser"

	if sessionID == "" {
		return identity.Account{}, session.Session{}, ErrUnauthenticated
	}

	sess, ok, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		return identity.Account{}, session.Session{}, storeFailure(op, err)
	}
	if !ok {
		return identity.Account{}, session.Session{}, ErrUnauthenticated
	}

	acc, ok, err := c.accounts.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		return identity.Account{}, session.Session{}, storeFailure(op, err)
	}
	if !ok {
		if err := c.sessions.Destroy(ctx, sessionID); err != nil {
			c.log.Warn("auth.current_user.destroy_orphan.fail", "account_id", sess.AccountID, "error", err)
		}
		return identity.Account{}, session.Session{}, ErrUnauthenticated
	}
	return acc, sess, nil
}

func (c *Controller) hash(ctx context.Context, pw string) (string, error) {
	h, err := c.hasher.HashContext(ctx, pw)
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, password.ErrHashTimeout):
		return "", ErrBusy
	default:
		return "", err
	}
}

// verify treats a malformed stored hash as a mismatch.
func (c *Controller) verify(ctx context.Context, encoded, pw string) (bool, error) {
	ok, err := c.hasher.VerifyContext(ctx, encoded, pw)
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, password.ErrInvalidHash):
		c.log.Warn("auth.login.invalid_hash")
		return false, nil
	case errors.Is(err, password.ErrHashTimeout):
		return false, ErrBusy
	default:
		return false, err
	}
}

// upgradeHash re-hashes pw with the current parameters. Failures are logged
// and the login proceeds with the old hash.
func (c *Controller) upgradeHash(ctx context.Context, acc identity.Account, pw string) identity.Account {
	h, err := c.hash(ctx, pw)
	if err != nil {
		c.log.Warn("auth.login.rehash.fail", "account_id", acc.ID, "error", err)
		return acc
	}
	updated, err := c.accounts.UpdateAccount(ctx, acc.ID, identity.AccountPatch{PasswordHash: &h})
	if err != nil {
		c.log.Warn("auth.login.rehash.store.fail", "account_id", acc.ID, "error", err)
		return acc
	}
	c.log.Info("auth.login.rehash.ok", "account_id", acc.ID)
	return updated
}

func usernameMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return "Invalid username: " + oe.Msg
	}
	return "Invalid username"
}
