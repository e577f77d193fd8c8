package failure

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAuthFailureHidesReason(t *testing.T) {
	for _, reason := range []error{ErrUnknownAccount, ErrNotAuthorized, ErrNotAuthorizedForFacility, ErrInvalidCredentials} {
		err := error(NewAuthFailure(reason))
		if err.Error() != "invalid credentials" {
			t.Fatalf("reason %v leaked into message %q", reason, err.Error())
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected errors.Is(ErrInvalidCredentials) for %v", reason)
		}
	}

	var f *AuthFailure
	if !errors.As(fmt.Errorf("wrapped: %w", NewAuthFailure(ErrNotAuthorizedForFacility)), &f) {
		t.Fatal("expected errors.As to find AuthFailure")
	}
	if f.ReasonCode() != "not_authorized_for_facility" {
		t.Fatalf("unexpected reason code %q", f.ReasonCode())
	}
}

func TestLockedErrorRoundsUp(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{0, 0},
		{time.Second, 1},
		{14*time.Minute + time.Second, 15},
		{15 * time.Minute, 15},
	}
	for _, tt := range tests {
		e := &LockedError{Remaining: tt.remaining}
		if got := e.RemainingMinutes(); got != tt.want {
			t.Errorf("RemainingMinutes(%v) = %d, want %d", tt.remaining, got, tt.want)
		}
		if !errors.Is(e, ErrAccountLocked) {
			t.Errorf("LockedError must unwrap to ErrAccountLocked")
		}
	}
}

func TestIsExpected(t *testing.T) {
	if !IsExpected(&CodeError{Remaining: 1}) {
		t.Fatal("code error is an expected outcome")
	}
	if IsExpected(fmt.Errorf("%w: dial tcp", ErrStoreUnavailable)) {
		t.Fatal("store outage must not be classified as expected")
	}
}
