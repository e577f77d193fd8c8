package hospitalauth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/internal/challenge"
	"github.com/MrEthical07/hospitalauth/internal/credential"
	"github.com/MrEthical07/hospitalauth/internal/device"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/MrEthical07/hospitalauth/internal/reqctx"
	"github.com/MrEthical07/hospitalauth/internal/reset"
	"github.com/MrEthical07/hospitalauth/notify"
	"github.com/MrEthical07/hospitalauth/token"
)

// Engine runs hospital administrator authentication. Build one with
// [Builder]; it is safe for concurrent use.
type Engine struct {
	config     Config
	accounts   account.Repository
	verifier   *credential.Verifier
	governor   *governor.Governor
	challenges *challenge.Issuer
	devices    *device.Registry
	resets     *reset.Orchestrator
	tokens     *token.Issuer
	recorder   *audit.Recorder
	audit      *audit.Dispatcher
	notifier   *notify.Dispatcher
	logger     *slog.Logger
	tracing    pipeline.Interceptor
	now        func() time.Time
}

// Close waits for pending notifications and drains the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifier.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Production reports whether the engine runs in production mode.
func (e *Engine) Production() bool {
	return e != nil && e.config.Production()
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	if e == nil || e.now == nil {
		return time.Now()
	}
	return e.now()
}

// run executes h inside the operation pipeline. With lockout set, failures
// count against the identifier and the lockout check is the innermost
// interceptor; otherwise only the client IP is throttled.
// guard selects which governor interceptors wrap an operation.
type guard int

const (
	// guardAccount counts failures per IP and identifier and enforces lockout.
	guardAccount guard = iota
	// guardIP counts failures per IP only.
	guardIP
	// guardIPCheck rejects exhausted IPs and counts nothing.
	guardIPCheck
)

func (e *Engine) run(ctx context.Context, action, identifier string, g guard, h pipeline.Handler) error {
	call := pipeline.NewCall(action, account.NormalizeIdentifier(identifier), reqctx.ClientIP(ctx), reqctx.UserAgent(ctx))
	interceptors := []pipeline.Interceptor{e.tracing, e.recorder.Interceptor()}
	switch g {
	case guardAccount:
		interceptors = append(interceptors, e.governor.Throttle(), e.governor.Lockout())
	case guardIP:
		interceptors = append(interceptors, e.governor.ThrottleIP())
	default:
		interceptors = append(interceptors, e.governor.GuardIP())
	}
	return pipeline.Chain(h, interceptors...)(ctx, call)
}

func (e *Engine) ready() bool {
	return e != nil && e.verifier != nil && e.governor != nil && e.tokens != nil
}

// enumerationDelay sleeps for a random duration in the configured range so
// that the generic reset response has no timing signal.
func (e *Engine) enumerationDelay(ctx context.Context) {
	lo := e.config.PasswordReset.EnumerationDelayMin
	hi := e.config.PasswordReset.EnumerationDelayMax
	if hi <= 0 {
		return
	}
	delay := lo
	if span := int64(hi-lo) + 1; span > 1 {
		if n, err := rand.Int(rand.Reader, big.NewInt(span)); err == nil {
			delay += time.Duration(n.Int64())
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func loginOutcome(result *LoginResult, err error) string {
	switch {
	case err == nil && result != nil && result.Status == LoginAuthenticated:
		return "authenticated"
	case err == nil:
		return "challenge_issued"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case IsExpected(err):
		return "failed"
	default:
		return "error"
	}
}

func observeLogin(result *LoginResult, err error) {
	metrics.LoginAttempts.WithLabelValues(loginOutcome(result, err)).Inc()
}
