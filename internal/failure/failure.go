// Package failure holds the error taxonomy shared by every authentication
// component. The root package re-exports these values; internal packages
// return them directly so errors.Is works across package boundaries.
package failure

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrUnknownAccount             = errors.New("unknown account")
	ErrNotAuthorized              = errors.New("account is not a hospital administrator")
	ErrNotAuthorizedForFacility   = errors.New("account is not an administrator of this facility")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrRateLimited                = errors.New("rate limited")
	ErrAccountLocked              = errors.New("account locked")
	ErrChallengeExpired           = errors.New("challenge expired")
	ErrInvalidCode                = errors.New("invalid verification code")
	ErrTooManyAttempts            = errors.New("too many attempts")
	ErrResetSequenceViolation     = errors.New("password reset sequence violation")
	ErrPasswordReuse              = errors.New("new password must be different from current password")
	ErrPasswordMismatch           = errors.New("password confirmation does not match")
	ErrPasswordPolicy             = errors.New("password policy violation")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrInvalidRefreshToken        = errors.New("invalid refresh token")
	ErrInvalidAccessToken         = errors.New("invalid access token")
	ErrStoreUnavailable           = errors.New("counter store unavailable")
	ErrInvalidInput               = errors.New("invalid input")
)

// AuthFailure is the single boundary shape for every "who are you" failure.
// Its message never reveals which check failed; Reason keeps the distinction
// for the audit trail.
type AuthFailure struct {
	Reason error
}

// NewAuthFailure wraps reason. A nil reason is reported as invalid credentials.
func NewAuthFailure(reason error) *AuthFailure {
	if reason == nil {
		reason = ErrInvalidCredentials
	}
	return &AuthFailure{Reason: reason}
}

func (f *AuthFailure) Error() string { return ErrInvalidCredentials.Error() }

func (f *AuthFailure) Unwrap() error { return ErrInvalidCredentials }

// ReasonCode is a stable short label for the audit log.
func (f *AuthFailure) ReasonCode() string {
	switch {
	case errors.Is(f.Reason, ErrUnknownAccount):
		return "unknown_account"
	case errors.Is(f.Reason, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(f.Reason, ErrNotAuthorizedForFacility):
		return "not_authorized_for_facility"
	default:
		return "invalid_credentials"
	}
}

// LockedError reports an active lockout with a coarse remaining time.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry in %d minute(s)", ErrAccountLocked, e.RemainingMinutes())
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RemainingMinutes rounds up so a caller is never told to retry too early.
func (e *LockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Minutes()))
}

// CodeError reports a wrong one-time code and how many tries are left before
// the challenge is destroyed.
type CodeError struct {
	Remaining int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%s: %d attempt(s) remaining", ErrInvalidCode, e.Remaining)
}

func (e *CodeError) Unwrap() error { return ErrInvalidCode }

// IsExpected reports whether err is a normal security outcome (a rejected
// attempt) rather than an infrastructure fault.
func IsExpected(err error) bool {
	for _, target := range []error{
		ErrUnknownAccount, ErrNotAuthorized, ErrNotAuthorizedForFacility,
		ErrInvalidCredentials, ErrRateLimited, ErrAccountLocked,
		ErrChallengeExpired, ErrInvalidCode, ErrTooManyAttempts,
		ErrResetSequenceViolation, ErrPasswordReuse, ErrPasswordMismatch,
		ErrPasswordPolicy, ErrInvalidRefreshToken, ErrInvalidAccessToken,
		ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
