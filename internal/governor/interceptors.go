package governor

import (
	"context"
	"errors"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
)

// Countable reports whether err is a failed attempt that should feed the
// counters. Throttling verdicts and password-policy errors after identity
// was proven are not counted.
func Countable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, failure.ErrInvalidCredentials),
		errors.Is(err, failure.ErrInvalidCode),
		errors.Is(err, failure.ErrTooManyAttempts),
		errors.Is(err, failure.ErrChallengeExpired),
		errors.Is(err, failure.ErrResetSequenceViolation):
		return true
	default:
		return false
	}
}

// Throttle rejects calls from an exhausted IP and counts countable
// failures of the wrapped handler against the IP and the identifier,
// replacing the error when a threshold trips.
func (g *Governor) Throttle() pipeline.Interceptor {
	return g.throttle(true)
}

// ThrottleIP is Throttle without the identifier counters. Password reset
// steps use it so that a locked account can still be reset.
func (g *Governor) ThrottleIP() pipeline.Interceptor {
	return g.throttle(false)
}

// GuardIP rejects calls from an exhausted IP and records nothing. The reset
// request uses it: its outcome must not depend on whether the account exists,
// and counting unknown identifiers would make the next verdict differ.
func (g *Governor) GuardIP() pipeline.Interceptor {
	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, call *pipeline.Call) error {
			if err := g.CheckIP(ctx, call.IP); err != nil {
				call.Annotate("blocked_by", "ip_throttle")
				return err
			}
			return next(ctx, call)
		}
	}
}

func (g *Governor) throttle(perIdentifier bool) pipeline.Interceptor {
	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, call *pipeline.Call) error {
			if err := g.CheckIP(ctx, call.IP); err != nil {
				call.Annotate("blocked_by", "ip_throttle")
				return err
			}

			err := next(ctx, call)
			if !Countable(err) {
				return err
			}

			a := Attempt{IP: call.IP, UserAgent: call.UserAgent}
			if perIdentifier {
				a.Identifier = call.Identifier
			}
			verdict, rerr := g.RecordFailure(ctx, a)
			if rerr != nil {
				g.logger.ErrorContext(ctx, "failed attempt not recorded", "action", call.Action, "error", rerr)
				return err
			}
			if verdict != nil {
				call.Annotate("cause", err.Error())
				return verdict
			}
			return err
		}
	}
}

// Lockout rejects calls for a locked identifier.
func (g *Governor) Lockout() pipeline.Interceptor {
	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, call *pipeline.Call) error {
			if err := g.CheckLockout(ctx, call.Identifier); err != nil {
				call.Annotate("blocked_by", "lockout")
				return err
			}
			return next(ctx, call)
		}
	}
}
