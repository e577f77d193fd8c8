// Package credential checks that a sign-in identifier, password and
// hospital code belong to an administrator of that hospital.
//
// Every rejection is a [*failure.AuthFailure]; its Error text is the same
// for all reasons so callers cannot leak which check failed. Repository
// faults are returned as ordinary errors.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/password"
)

// Request is a credential check.
type Request struct {
	Identifier   string
	Password     string
	FacilityCode string
}

// Result is a verified administrator and the affiliation that matched.
type Result struct {
	Admin       *account.Admin
	Affiliation *account.Affiliation
}

// Verifier checks credentials against an account repository.
type Verifier struct {
	accounts account.Repository
	hasher   password.Hasher
	relaxed  bool
}

// NewVerifier creates a Verifier. With relaxed matching a numeric facility
// code may also match the hospital's numeric id.
func NewVerifier(accounts account.Repository, hasher password.Hasher, relaxed bool) *Verifier {
	if hasher == nil {
		hasher = password.NewMulti(0)
	}
	return &Verifier{accounts: accounts, hasher: hasher, relaxed: relaxed}
}

// Verify runs every check including the password.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	res, err := v.Resolve(ctx, req.Identifier, req.FacilityCode)
	if err != nil {
		var af *failure.AuthFailure
		if errors.As(err, &af) {
			password.DummyCompare(req.Password)
		}
		return nil, err
	}

	ok, err := v.hasher.Verify(req.Password, res.Admin.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrUnsupportedHash) {
		return nil, fmt.Errorf("credential: verify password: %w", err)
	}
	if !ok {
		return nil, failure.NewAuthFailure(failure.ErrInvalidCredentials)
	}
	return res, nil
}

// Resolve runs the account, role and facility checks without a password,
// as the password reset request does.
func (v *Verifier) Resolve(ctx context.Context, identifier, facilityCode string) (*Result, error) {
	identifier = strings.TrimSpace(identifier)
	facilityCode = strings.TrimSpace(facilityCode)
	if identifier == "" || facilityCode == "" {
		return nil, failure.NewAuthFailure(failure.ErrUnknownAccount)
	}

	admin, err := v.accounts.FindByIdentifier(ctx, identifier)
	if errors.Is(err, account.ErrNotFound) {
		return nil, failure.NewAuthFailure(failure.ErrUnknownAccount)
	}
	if err != nil {
		return nil, err
	}
	if admin.Role != account.RoleHospitalAdmin || !admin.Active {
		return nil, failure.NewAuthFailure(failure.ErrNotAuthorized)
	}

	aff, err := v.accounts.FindAffiliation(ctx, admin.ID, v.lookup(facilityCode))
	if errors.Is(err, account.ErrNotFound) {
		return nil, failure.NewAuthFailure(failure.ErrNotAuthorizedForFacility)
	}
	if err != nil {
		return nil, err
	}
	if aff.Role != account.AffiliationAdministrator {
		return nil, failure.NewAuthFailure(failure.ErrNotAuthorizedForFacility)
	}
	return &Result{Admin: admin, Affiliation: aff}, nil
}

func (v *Verifier) lookup(code string) account.FacilityLookup {
	l := account.FacilityLookup{Code: code}
	if v.relaxed {
		if id, err := strconv.ParseInt(code, 10, 64); err == nil && id > 0 {
			l.ID = id
		}
	}
	return l
}
