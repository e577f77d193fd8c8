package hospitalauth

import (
	"errors"

	"github.com/MrEthical07/hospitalauth/internal/failure"
)

var (
	// ErrUnknownAccount is recorded in audits for unknown identifiers. Callers see ErrInvalidCredentials.
	ErrUnknownAccount = failure.ErrUnknownAccount
	// ErrNotAuthorized is recorded in audits for accounts without the administrator role.
	ErrNotAuthorized = failure.ErrNotAuthorized
	// ErrNotAuthorizedForFacility is recorded in audits for facility mismatches.
	ErrNotAuthorizedForFacility = failure.ErrNotAuthorizedForFacility
	// ErrInvalidCredentials is the single caller-facing credential failure.
	ErrInvalidCredentials = failure.ErrInvalidCredentials
	// ErrRateLimited is returned when the client IP exhausted its attempt budget.
	ErrRateLimited = failure.ErrRateLimited
	// ErrAccountLocked is returned while a lockout is active. See [LockedError].
	ErrAccountLocked = failure.ErrAccountLocked
	// ErrChallengeExpired is returned when no live challenge or reset session exists.
	ErrChallengeExpired = failure.ErrChallengeExpired
	// ErrInvalidCode is returned for a wrong code. See [CodeError].
	ErrInvalidCode = failure.ErrInvalidCode
	// ErrTooManyAttempts is returned when wrong codes destroyed the challenge or reset session.
	ErrTooManyAttempts = failure.ErrTooManyAttempts
	// ErrResetSequenceViolation is returned when a reset step runs out of order or is replayed.
	ErrResetSequenceViolation = failure.ErrResetSequenceViolation
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = failure.ErrPasswordReuse
	// ErrPasswordMismatch is returned when the confirmation differs from the new password.
	ErrPasswordMismatch = failure.ErrPasswordMismatch
	// ErrPasswordPolicy is returned when the new password fails the policy.
	ErrPasswordPolicy = failure.ErrPasswordPolicy
	// ErrNotificationDeliveryFailed is logged and audited, never returned by an operation.
	ErrNotificationDeliveryFailed = failure.ErrNotificationDeliveryFailed
	// ErrInvalidRefreshToken is returned for missing, expired or forged refresh tokens.
	ErrInvalidRefreshToken = failure.ErrInvalidRefreshToken
	// ErrInvalidAccessToken is returned for missing, expired or forged access tokens.
	ErrInvalidAccessToken = failure.ErrInvalidAccessToken
	// ErrStoreUnavailable wraps counter store faults.
	ErrStoreUnavailable = failure.ErrStoreUnavailable
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = failure.ErrInvalidInput

	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

type (
	// AuthFailure collapses every identity failure into "invalid credentials".
	AuthFailure = failure.AuthFailure
	// LockedError carries the coarse time left on a lockout.
	LockedError = failure.LockedError
	// CodeError carries the attempts left on a challenge.
	CodeError = failure.CodeError
)

// IsExpected reports whether err is part of the documented failure model
// rather than an internal fault.
func IsExpected(err error) bool {
	return failure.IsExpected(err)
}
