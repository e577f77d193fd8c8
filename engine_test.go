package hospitalauth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	adminEmail    = "admin@stmary.org"
	adminPassword = "Correct-horse-1"
	facility      = "SMH"
	securityTeam  = "security@stmary.org"
)

var (
	loginCodeRE  = regexp.MustCompile(`code is (\d{6})`)
	resetCodeRE  = regexp.MustCompile(`Verification code: (\d{6})`)
	resetTokenRE = regexp.MustCompile(`Reset token: ([0-9a-f]{32})`)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type message struct{ to, subject, body string }

type outbox struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, message{to: to, subject: subject, body: body})
	return nil
}

// latest returns the first capture group of the newest message to "to"
// that matches re.
func (o *outbox) latest(to string, re *regexp.Regexp) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].to != to {
			continue
		}
		if m := re.FindStringSubmatch(o.msgs[i].body); m != nil {
			return m[1]
		}
	}
	return ""
}

func (o *outbox) count(to string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.to == to {
			n++
		}
	}
	return n
}

type testEnv struct {
	engine *Engine
	repo   *account.MemoryRepository
	hasher password.Hasher
	mail   *outbox
	sink   *MemorySink
	clock  *fakeClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher := password.NewBcrypt(4)
	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := account.NewMemoryRepository()
	repo.AddHospital(account.Hospital{ID: 7, Code: facility, Name: "St Mary's"})
	repo.AddAdmin(account.Admin{
		ID:           "a-1",
		Identifier:   adminEmail,
		PasswordHash: hash,
		Role:         account.RoleHospitalAdmin,
		DisplayName:  "Dr Ada",
		Active:       true,
	})
	repo.Link("a-1", 7, account.AffiliationAdministrator)

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.SecurityTeam = securityTeam
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		repo:   repo,
		hasher: hasher,
		mail:   &outbox{},
		sink:   NewMemorySink(),
		clock:  &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(repo).
		WithHasher(hasher).
		WithNotifier(env.mail).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func clientCtx(ip string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), "test-agent/1.0")
}

func (env *testEnv) login(t *testing.T, ctx context.Context, pw string) (*LoginResult, error) {
	t.Helper()
	return env.engine.StartLogin(ctx, LoginRequest{Identifier: adminEmail, Password: pw, FacilityCode: facility})
}

// code waits for pending mail and returns the newest login code.
func (env *testEnv) code(t *testing.T) string {
	t.Helper()
	env.engine.notifier.Wait()
	code := env.mail.latest(adminEmail, loginCodeRE)
	if code == "" {
		t.Fatal("no login code mailed")
	}
	return code
}

// events closes the engine so the audit buffer is drained.
func (env *testEnv) events(action string) []AuditEvent {
	env.engine.Close()
	return env.sink.Find(action, adminEmail)
}

func TestLoginRequiresSecondFactor(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.7")

	res, err := env.login(t, ctx, adminPassword)
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if res.Status != LoginChallengeRequired || res.Tokens != nil {
		t.Fatalf("result = %+v, want challenge", res)
	}

	code := env.code(t)
	res, err = env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: "  Admin@StMary.org ", Code: code})
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if res.Status != LoginAuthenticated || res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("result = %+v, want tokens", res)
	}
	if res.Admin.ID != "a-1" || res.Admin.HospitalID != 7 || res.Admin.DisplayName != "Dr Ada" {
		t.Fatalf("admin = %+v", res.Admin)
	}

	if _, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: adminEmail, Code: code}); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("reused code = %v, want ErrChallengeExpired", err)
	}

	events := env.events(ActionVerifyLogin)
	if len(events) != 2 || events[0].Outcome != audit.OutcomeSuccess || events[1].Outcome != audit.OutcomeFailed {
		t.Fatalf("verify events = %+v", events)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.8")

	for i := 1; i <= 4; i++ {
		if _, err := env.login(t, ctx, "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i, err)
		}
	}
	if _, err := env.login(t, ctx, "wrong-password-1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth attempt = %v, want ErrAccountLocked", err)
	}

	_, err := env.login(t, ctx, adminPassword)
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("correct password while locked = %v, want LockedError", err)
	}
	if locked.RemainingMinutes() != 15 {
		t.Fatalf("remaining = %d minutes, want 15", locked.RemainingMinutes())
	}

	env.clock.Advance(10 * time.Minute)
	if _, err := env.login(t, ctx, adminPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("after 10m = %v, want still locked", err)
	}

	env.clock.Advance(6 * time.Minute)
	res, err := env.login(t, ctx, adminPassword)
	if err != nil || res.Status != LoginChallengeRequired {
		t.Fatalf("after expiry = %+v, %v", res, err)
	}

	critical := env.events(ActionAccountLocked)
	if len(critical) != 1 || critical[0].Severity != audit.SeverityCritical {
		t.Fatalf("lock events = %+v", critical)
	}
}

func TestSuccessfulLoginResetsCounters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.9")

	for i := 0; i < 4; i++ {
		_, _ = env.login(t, ctx, "wrong-password-1")
	}
	if _, err := env.login(t, ctx, adminPassword); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if _, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: adminEmail, Code: env.code(t)}); err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}

	for i := 1; i <= 4; i++ {
		if _, err := env.login(t, ctx, "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("fresh attempt %d = %v, want ErrInvalidCredentials", i, err)
		}
	}
	if _, err := env.login(t, ctx, "wrong-password-1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth fresh attempt = %v, want ErrAccountLocked", err)
	}
}

func TestIPThrottle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("203.0.113.50")

	var last error
	for i := 0; i < 12; i++ {
		_, last = env.engine.StartLogin(ctx, LoginRequest{
			Identifier:   fmt.Sprintf("ghost%d@stmary.org", i),
			Password:     "whatever-123",
			FacilityCode: facility,
		})
		if i < 9 && !errors.Is(last, ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i, last)
		}
	}
	if !errors.Is(last, ErrRateLimited) {
		t.Fatalf("last attempt = %v, want ErrRateLimited", last)
	}

	// Another client is unaffected.
	if _, err := env.login(t, clientCtx("203.0.113.51"), adminPassword); err != nil {
		t.Fatalf("other ip = %v", err)
	}
}

func TestFacilityMismatchIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.StartLogin(clientCtx("198.51.100.10"), LoginRequest{Identifier: adminEmail, Password: adminPassword, FacilityCode: "GEN"})
	if !errors.Is(err, ErrInvalidCredentials) || err.Error() != "invalid credentials" {
		t.Fatalf("err = %v, want generic invalid credentials", err)
	}

	events := env.events(ActionLogin)
	if len(events) != 1 || events[0].Detail["reason"] != "not_authorized_for_facility" {
		t.Fatalf("login events = %+v", events)
	}
}

func TestPasswordResetRequestIsIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	cfg := env.engine.config.PasswordReset

	timed := func(identifier string) time.Duration {
		start := time.Now()
		err := env.engine.RequestPasswordReset(clientCtx("198.51.100.11"), PasswordResetRequest{Identifier: identifier, FacilityCode: facility})
		if err != nil {
			t.Fatalf("RequestPasswordReset(%s) = %v", identifier, err)
		}
		return time.Since(start)
	}

	known := timed(adminEmail)
	unknown := timed("nobody@stmary.org")
	for _, d := range []time.Duration{known, unknown} {
		if d < cfg.EnumerationDelayMin {
			t.Fatalf("response took %v, want at least %v", d, cfg.EnumerationDelayMin)
		}
	}
	if diff := known - unknown; diff > 200*time.Millisecond || diff < -200*time.Millisecond {
		t.Fatalf("timing differs by %v", diff)
	}

	env.engine.notifier.Wait()
	if env.mail.latest(adminEmail, resetTokenRE) == "" {
		t.Fatal("known account did not receive a reset token")
	}
	if env.mail.count("nobody@stmary.org") != 0 {
		t.Fatal("unknown account received mail")
	}
}

func TestPasswordResetRequestDoesNotMoveIPThrottle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("203.0.113.77")

	for i := 0; i < 9; i++ {
		_, err := env.engine.StartLogin(ctx, LoginRequest{
			Identifier:   fmt.Sprintf("ghost%d@stmary.org", i),
			Password:     "whatever-123",
			FacilityCode: facility,
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %d = %v, want ErrInvalidCredentials", i, err)
		}
	}

	for _, tc := range []struct{ identifier, facility string }{
		{adminEmail, facility},
		{"nobody@stmary.org", facility},
		{adminEmail, "OTHER"},
		{"nobody@stmary.org", facility},
	} {
		err := env.engine.RequestPasswordReset(ctx, PasswordResetRequest{Identifier: tc.identifier, FacilityCode: tc.facility})
		if err != nil {
			t.Fatalf("RequestPasswordReset(%s, %s) = %v, want nil", tc.identifier, tc.facility, err)
		}
	}

	// One more failure exhausts the window for every later request alike.
	_, _ = env.engine.StartLogin(ctx, LoginRequest{Identifier: "ghost9@stmary.org", Password: "whatever-123", FacilityCode: facility})
	for _, id := range []string{adminEmail, "nobody@stmary.org"} {
		if err := env.engine.RequestPasswordReset(ctx, PasswordResetRequest{Identifier: id, FacilityCode: facility}); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("RequestPasswordReset(%s) on exhausted ip = %v, want ErrRateLimited", id, err)
		}
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.12")
	const newPassword = "Fresh-start-2026"

	for i := 0; i < 5; i++ {
		_, _ = env.login(t, ctx, "wrong-password-1")
	}
	if _, err := env.login(t, ctx, adminPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("precondition: %v, want locked", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, PasswordResetRequest{Identifier: adminEmail, FacilityCode: facility}); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	env.engine.notifier.Wait()
	primary := env.mail.latest(adminEmail, resetTokenRE)
	code := env.mail.latest(adminEmail, resetCodeRE)

	early := PasswordResetCompleteRequest{
		Identifier: adminEmail, PrimaryToken: primary, SecondaryToken: "guess",
		NewPassword: newPassword, ConfirmPassword: newPassword,
	}
	if err := env.engine.CompletePasswordReset(ctx, early); !errors.Is(err, ErrResetSequenceViolation) {
		t.Fatalf("complete before verify = %v, want ErrResetSequenceViolation", err)
	}

	verified, err := env.engine.VerifyPasswordReset(ctx, PasswordResetVerifyRequest{Identifier: adminEmail, PrimaryToken: primary, Code: code})
	if err != nil {
		t.Fatalf("VerifyPasswordReset: %v", err)
	}
	err = env.engine.CompletePasswordReset(ctx, PasswordResetCompleteRequest{
		Identifier:      adminEmail,
		PrimaryToken:    verified.PrimaryToken,
		SecondaryToken:  verified.SecondaryToken,
		NewPassword:     newPassword,
		ConfirmPassword: newPassword,
	})
	if err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}

	res, err := env.login(t, ctx, newPassword)
	if err != nil || res.Status != LoginChallengeRequired {
		t.Fatalf("login after reset = %+v, %v", res, err)
	}
	if _, err := env.login(t, clientCtx("198.51.100.13"), adminPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password = %v, want ErrInvalidCredentials", err)
	}
	env.engine.notifier.Wait()
	if env.mail.count(securityTeam) < 2 {
		t.Fatalf("security team mails = %d, want reset request and completion", env.mail.count(securityTeam))
	}
}

func TestRefreshRotation(t *testing.T) {
	for _, rotate := range []bool{true, false} {
		t.Run(fmt.Sprintf("rotate=%v", rotate), func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.JWT.RotateRefresh = rotate })
			ctx := clientCtx("198.51.100.14")
			if _, err := env.login(t, ctx, adminPassword); err != nil {
				t.Fatalf("StartLogin: %v", err)
			}
			res, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: adminEmail, Code: env.code(t)})
			if err != nil {
				t.Fatalf("VerifyLogin: %v", err)
			}
			original := res.Tokens.RefreshToken

			a, err := env.engine.Refresh(ctx, original)
			if err != nil {
				t.Fatalf("first Refresh: %v", err)
			}
			b, err := env.engine.Refresh(ctx, original)
			if err != nil {
				t.Fatalf("second Refresh: %v", err)
			}
			if rotate {
				if a.RefreshToken == b.RefreshToken || a.RefreshToken == original {
					t.Fatal("rotation reused a refresh token")
				}
			} else if a.RefreshToken != original || b.RefreshToken != original {
				t.Fatal("refresh token was not echoed without rotation")
			}
			if a.AccessToken == "" || a.AccessToken == res.Tokens.AccessToken {
				t.Fatal("refresh did not mint a new access token")
			}
		})
	}
}

func TestRefreshRejectsDisabledAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.15")
	_, _ = env.login(t, ctx, adminPassword)
	res, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: adminEmail, Code: env.code(t)})
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}

	env.repo.AddAdmin(account.Admin{ID: "a-1", Identifier: adminEmail, Role: account.RoleHospitalAdmin, Active: false})
	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("Refresh = %v, want ErrInvalidRefreshToken", err)
	}
	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("Refresh(garbage) = %v", err)
	}
}

func TestTrustedDeviceSkipPolicy(t *testing.T) {
	for _, skip := range []bool{false, true} {
		t.Run(fmt.Sprintf("skip=%v", skip), func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.Policy.SkipChallengeForTrustedDevices = skip })
			ctx := clientCtx("198.51.100.16")
			req := LoginRequest{Identifier: adminEmail, Password: adminPassword, FacilityCode: facility, DeviceID: "browser-1"}

			if _, err := env.engine.StartLogin(ctx, req); err != nil {
				t.Fatalf("StartLogin: %v", err)
			}
			res, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{
				Identifier: adminEmail, Code: env.code(t), DeviceID: "browser-1", RememberDevice: true,
			})
			if err != nil || !res.DeviceTrusted {
				t.Fatalf("VerifyLogin = %+v, %v", res, err)
			}

			res, err = env.engine.StartLogin(ctx, req)
			if err != nil {
				t.Fatalf("second StartLogin: %v", err)
			}
			want := LoginChallengeRequired
			if skip {
				want = LoginAuthenticated
			}
			if res.Status != want {
				t.Fatalf("status = %s, want %s", res.Status, want)
			}

			// An unknown device always gets a challenge.
			req.DeviceID = "browser-2"
			if res, _ := env.engine.StartLogin(ctx, req); res == nil || res.Status != LoginChallengeRequired {
				t.Fatalf("unknown device = %+v", res)
			}
		})
	}
}

func TestVerifyWithoutRememberForgetsDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.18")
	verify := func(remember bool) {
		t.Helper()
		req := LoginRequest{Identifier: adminEmail, Password: adminPassword, FacilityCode: facility, DeviceID: "browser-1"}
		if _, err := env.engine.StartLogin(ctx, req); err != nil {
			t.Fatalf("StartLogin: %v", err)
		}
		res, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{
			Identifier: adminEmail, Code: env.code(t), DeviceID: "browser-1", RememberDevice: remember,
		})
		if err != nil || res.DeviceTrusted != remember {
			t.Fatalf("VerifyLogin(remember=%v) = %+v, %v", remember, res, err)
		}
	}

	verify(true)
	if ok, _ := env.engine.devices.IsTrusted(ctx, "a-1", "browser-1"); !ok {
		t.Fatal("device not trusted after remember_device")
	}
	verify(false)
	if ok, _ := env.engine.devices.IsTrusted(ctx, "a-1", "browser-1"); ok {
		t.Fatal("device still trusted after verifying without remember_device")
	}
}

func TestIntrospect(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := clientCtx("198.51.100.17")
	_, _ = env.login(t, ctx, adminPassword)
	res, err := env.engine.VerifyLogin(ctx, VerifyLoginRequest{Identifier: adminEmail, Code: env.code(t)})
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}

	info, err := env.engine.Introspect(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if info.AccountID != "a-1" || info.HospitalID != 7 || info.Admin == nil || info.Admin.Identifier != adminEmail {
		t.Fatalf("info = %+v", info)
	}
	if _, err := env.engine.Introspect(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("refresh token as access = %v", err)
	}
}

func TestNotificationFailureIsAuditedNotReturned(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mail.err = errors.New("smtp relay down")

	res, err := env.login(t, clientCtx("198.51.100.18"), adminPassword)
	if err != nil || res.Status != LoginChallengeRequired {
		t.Fatalf("StartLogin = %+v, %v", res, err)
	}
	env.engine.notifier.Wait()
	env.engine.Close()

	var found bool
	for _, ev := range env.sink.Events() {
		if ev.Action == ActionNotificationFailed && strings.Contains(ev.Detail["error"], "smtp relay down") {
			found = true
		}
	}
	if !found {
		t.Fatal("delivery failure was not audited")
	}
}

func TestBuildValidation(t *testing.T) {
	repo := account.NewMemoryRepository()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	cfg := DefaultConfig()
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithAccounts(repo).Build(); err == nil {
		t.Fatal("expected missing signing key to fail")
	}

	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	if _, err := New().WithConfig(cfg).WithAccounts(repo).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing accounts to fail")
	}

	cfg.Mode = "staging"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown mode to fail")
	}

	b := New().WithConfig(DefaultConfig())
	b.config.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	engine, err := b.WithRedis(rdb).WithAccounts(repo).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	if _, err := e.StartLogin(context.Background(), LoginRequest{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("err = %v", err)
	}
	e.Close()
}
