package account

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/hospitalauth/notify"
)

// ErrNotFound is returned when an account or affiliation does not exist.
var ErrNotFound = errors.New("account: not found")

// Role is the account-level role of a user.
type Role string

const (
	// RoleHospitalAdmin is the only role allowed through this login flow.
	RoleHospitalAdmin Role = "hospital_admin"
	RoleStaff         Role = "staff"
)

// AffiliationRole is the role an account holds at one hospital.
type AffiliationRole string

const (
	AffiliationAdministrator AffiliationRole = "administrator"
	AffiliationMember        AffiliationRole = "member"
)

// Admin is a hospital administrator account.
type Admin struct {
	ID                 string
	Identifier         string
	PasswordHash       string
	Role               Role
	DisplayName        string
	AlertEmail         string
	MustChangePassword bool
	Active             bool
}

// Hospital is the facility an administrator is affiliated with.
type Hospital struct {
	ID   int64
	Code string
	Name string
}

// Affiliation links an account to a hospital.
type Affiliation struct {
	AccountID string
	Role      AffiliationRole
	Hospital  Hospital
}

// FacilityLookup identifies a hospital. ID is only set when relaxed
// matching allows a numeric facility id in place of the code.
type FacilityLookup struct {
	Code string
	ID   int64
}

// Repository is the account store used by the authentication core.
type Repository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*Admin, error)
	FindAffiliation(ctx context.Context, accountID string, lookup FacilityLookup) (*Affiliation, error)
	SetPasswordHash(ctx context.Context, accountID, hash string) error
	ClearMustChangeFlag(ctx context.Context, accountID string) error
}

// NormalizeIdentifier trims and lower-cases a login identifier so that
// lookups and counter keys agree on one spelling.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// ContactAddress returns where security mail for a should go: the alert
// email when it is a mailbox, otherwise the login identifier when that is a
// mailbox, otherwise "".
func ContactAddress(a *Admin) string {
	if a == nil {
		return ""
	}
	if notify.IsMailbox(a.AlertEmail) {
		return strings.TrimSpace(a.AlertEmail)
	}
	if notify.IsMailbox(a.Identifier) {
		return strings.TrimSpace(a.Identifier)
	}
	return ""
}
