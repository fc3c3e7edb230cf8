package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/reset"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

const goodPassword = "Str0ng!Passw0rd"

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctl      *Controller
	accounts identity.Store
	sessions *session.Manager
	clock    *clock
	cfg      password.Config
}

func cheapConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newFixture(t *testing.T, accounts identity.Store, opts ...Option) *fixture {
	t.Helper()

	if accounts == nil {
		accounts = identity.NewMemoryStore()
	}
	clk := &clock{now: t0}
	digester := token.NewDigester([]byte("test-secret-test-secret-test-secret"))

	sessions, err := session.NewManager(session.NewMemoryStore(), digester, session.DefaultConfig(),
		session.WithClock(clk.Now))
	require.NoError(t, err)

	resets, err := reset.NewService(accounts, digester, reset.WithClock(clk.Now))
	require.NoError(t, err)

	cfg := cheapConfig()
	opts = append([]Option{WithDigester(digester)}, opts...)
	ctl, err := NewController(accounts, sessions, resets, password.NewLimiter(cfg, 4, time.Second), opts...)
	require.NoError(t, err)

	return &fixture{ctl: ctl, accounts: accounts, sessions: sessions, clock: clk, cfg: cfg}
}

func TestRegister_CreatesAccountAndSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.ctl.Register(ctx, "  alice  ", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Account.Username)
	assert.NotEqual(t, goodPassword, res.Account.PasswordHash)
	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, res.Account.ID, res.Session.AccountID)

	ok, err := f.cfg.Verify(res.Account.PasswordHash, goodPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	acc, _, err := f.ctl.CurrentUser(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, acc.ID)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "bob", goodPassword)
	require.NoError(t, err)

	_, err = f.ctl.Register(ctx, "bob", goodPassword)
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	// Usernames are case-sensitive.
	_, err = f.ctl.Register(ctx, "Bob", goodPassword)
	assert.NoError(t, err)
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.ctl.Register(ctx, "carol", goodPassword)
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateUsername):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		field    string
		rule     error
	}{
		{name: "missing username", username: "  ", password: goodPassword},
		{name: "missing password", username: "dave"},
		{name: "too short", username: "dave", password: "abc", field: "password", rule: password.ErrPasswordTooShort},
		{name: "no uppercase", username: "dave", password: "alllowercase1!", field: "password", rule: password.ErrPasswordMissingUpper},
		{name: "control char", username: "da\x00ve", password: goodPassword, field: "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctl.Register(ctx, tt.username, tt.password)
			require.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.NotEmpty(t, ve.Msg)
			if tt.rule != nil {
				assert.ErrorIs(t, err, tt.rule)
			}
		})
	}

	_, ok, err := f.accounts.GetAccountByUsername(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, ok, "rejected registrations must not create accounts")
}

func TestRegister_PolicyMessage(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ctl.Register(context.Background(), "erin", "Aa1!")
	require.Error(t, err)
	assert.Equal(t, "Password must be at least 8 characters long", err.Error())

	_, err = f.ctl.Register(context.Background(), "erin", "Aa1!aaaa")
	assert.NoError(t, err)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reg, err := f.ctl.Register(ctx, "frank", goodPassword)
	require.NoError(t, err)

	res, err := f.ctl.Login(ctx, "frank", goodPassword, false)
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, res.Account.ID)
	assert.NotEqual(t, reg.Session.ID, res.Session.ID)
	assert.Empty(t, res.RememberMeToken)
	assert.False(t, res.Session.RememberMe)
}

func TestLogin_FailuresLookIdentical(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "grace", goodPassword)
	require.NoError(t, err)

	_, errWrong := f.ctl.Login(ctx, "grace", "Wr0ng!Password", false)
	_, errUnknown := f.ctl.Login(ctx, "nobody", "Wr0ng!Password", false)

	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
}

func TestLogin_RememberMe(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "heidi", goodPassword)
	require.NoError(t, err)

	res, err := f.ctl.Login(ctx, "heidi", goodPassword, true)
	require.NoError(t, err)
	assert.Len(t, res.RememberMeToken, 64)
	assert.True(t, res.Session.RememberMe)
	assert.True(t, res.Session.ExpiresAt.Equal(t0.Add(session.DefaultConfig().RememberTTL)))

	acc, ok, err := f.accounts.GetAccountByID(ctx, res.Account.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, acc.RememberMeToken)
	assert.NotEqual(t, res.RememberMeToken, *acc.RememberMeToken, "only the digest is stored")
}

func TestLogin_UpgradesWeakHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	weak := f.cfg
	weak.Params.SaltLength = 8
	weak.Params.KeyLength = 16
	h, err := weak.Hash(goodPassword)
	require.NoError(t, err)
	acc, err := f.accounts.CreateAccount(ctx, identity.CreateAccountInput{Username: "ivan", PasswordHash: h})
	require.NoError(t, err)

	res, err := f.ctl.Login(ctx, "ivan", goodPassword, false)
	require.NoError(t, err)
	assert.NotEqual(t, h, res.Account.PasswordHash)

	stored, _, err := f.accounts.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, f.cfg.NeedsRehash(stored.PasswordHash))
}

func TestLogin_MalformedStoredHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.accounts.CreateAccount(ctx, identity.CreateAccountInput{Username: "judy", PasswordHash: "not-a-hash"})
	require.NoError(t, err)

	_, err = f.ctl.Login(ctx, "judy", goodPassword, false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.ctl.Register(ctx, "ken", goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.ctl.Logout(ctx, res.Session.ID))
	require.NoError(t, f.ctl.Logout(ctx, res.Session.ID), "logout is idempotent")
	require.NoError(t, f.ctl.Logout(ctx, ""))

	_, _, err = f.ctl.CurrentUser(ctx, res.Session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "leo", goodPassword)
	require.NoError(t, err)

	issued, err := f.ctl.ForgotPassword(ctx, "leo")
	require.NoError(t, err)
	require.True(t, issued.Issued)
	assert.Len(t, issued.Token, 64)
	assert.True(t, issued.ExpiresAt.Equal(t0.Add(time.Hour)))

	const newPassword = "N3w!Password"
	require.NoError(t, f.ctl.ResetPassword(ctx, issued.Token, newPassword))

	_, err = f.ctl.Login(ctx, "leo", goodPassword, false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.ctl.Login(ctx, "leo", newPassword, false)
	assert.NoError(t, err)

	err = f.ctl.ResetPassword(ctx, issued.Token, "An0ther!Password")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken, "tokens are single use")
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "mallory", goodPassword)
	require.NoError(t, err)
	issued, err := f.ctl.ForgotPassword(ctx, "mallory")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	err = f.ctl.ResetPassword(ctx, issued.Token, "N3w!Password")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctl.Register(ctx, "nina", goodPassword)
	require.NoError(t, err)
	issued, err := f.ctl.ForgotPassword(ctx, "nina")
	require.NoError(t, err)

	err = f.ctl.ResetPassword(ctx, issued.Token, "weak")
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.ctl.ResetPassword(ctx, issued.Token, "N3w!Password"))
}

func TestResetPassword_UnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	err := f.ctl.ResetPassword(context.Background(), "deadbeef", "N3w!Password")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	err = f.ctl.ResetPassword(context.Background(), "", "N3w!Password")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestForgotPassword_UnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ctl.ForgotPassword(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	strict := newFixture(t, nil, WithStrictForgotPassword(true))
	issued, err := strict.ctl.ForgotPassword(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, issued.Issued)
	assert.Empty(t, issued.Token)
}

func TestCurrentUser_Unauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.ctl.CurrentUser(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, _, err = f.ctl.CurrentUser(ctx, "unknown-session")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	res, err := f.ctl.Register(ctx, "olga", goodPassword)
	require.NoError(t, err)
	f.clock.Advance(session.DefaultConfig().IdleTTL)
	_, _, err = f.ctl.CurrentUser(ctx, res.Session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCurrentUser_OrphanSessionIsDestroyed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx, 4242, session.Options{})
	require.NoError(t, err)

	_, _, err = f.ctl.CurrentUser(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, ok, err := f.sessions.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

type brokenStore struct {
	identity.Store
	err error
}

func (s brokenStore) GetAccountByUsername(context.Context, string) (identity.Account, bool, error) {
	return identity.Account{}, false, s.err
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	cause := identity.OpError{Op: "identity.GetAccountByUsername", Kind: identity.ErrStoreUnavailable, Err: errors.New("boom")}
	f := newFixture(t, brokenStore{Store: identity.NewMemoryStore(), err: cause})

	_, err := f.ctl.Login(context.Background(), "pat", goodPassword, false)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "flow.Login")

	_, err = f.ctl.ForgotPassword(context.Background(), "pat")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

type rejectingStore struct {
	identity.Store
}

func (rejectingStore) CreateAccount(context.Context, identity.CreateAccountInput) (identity.Account, error) {
	return identity.Account{}, identity.OpError{Op: "identity.CreateAccount", Kind: identity.ErrInvalidInput, Msg: "username is reserved"}
}

func TestRegister_StoreRejectsInput(t *testing.T) {
	f := newFixture(t, rejectingStore{Store: identity.NewMemoryStore()})

	_, err := f.ctl.Register(context.Background(), "root", goodPassword)
	require.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "username", ve.Field)
	assert.Equal(t, "Invalid username: username is reserved", ve.Msg)
}

func TestStoreFailures_ContextPassesThrough(t *testing.T) {
	f := newFixture(t, brokenStore{Store: identity.NewMemoryStore(), err: context.Canceled})

	_, err := f.ctl.Register(context.Background(), "quinn", goodPassword)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewController_MissingDependency(t *testing.T) {
	_, err := NewController(nil, nil, nil, nil)
	assert.Error(t, err)
}
