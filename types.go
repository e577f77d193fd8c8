package hospitalauth

import (
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/MrEthical07/hospitalauth/internal/reset"
	"github.com/MrEthical07/hospitalauth/token"
)

// LoginStatus is the state a login call ends in.
type LoginStatus string

const (
	// LoginChallengeRequired means a code was mailed and VerifyLogin must follow.
	LoginChallengeRequired LoginStatus = "2fa_required"
	// LoginAuthenticated means tokens were issued.
	LoginAuthenticated LoginStatus = "authenticated"
)

// Audit actions for Engine operations.
const (
	ActionLogin              = "hospital_admin_login"
	ActionVerifyLogin        = "hospital_admin_2fa_verify"
	ActionResendLoginCode    = "hospital_admin_2fa_resend"
	ActionResetRequest       = "password_reset_request"
	ActionResetVerify        = "password_reset_verify"
	ActionResetComplete      = "password_reset_complete"
	ActionTokenRefresh       = "token_refresh"
	ActionNotificationFailed = "notification_delivery_failed"

	ActionPasswordResetReplay = reset.ActionReplay
	ActionAccountLocked       = governor.ActionAccountLocked
	ActionCredentialStuffing  = governor.ActionStuffingSuspected
	ActionLockoutCleared      = governor.ActionLockoutCleared
	ActionLockoutExpired      = governor.ActionLockoutExpired
	ActionLoginBaseline       = governor.ActionLoginBaseline
)

// LoginRequest is the first login step.
type LoginRequest struct {
	Identifier   string
	Password     string
	FacilityCode string
	// DeviceID is the client-owned device id. When empty the id attached
	// with [WithDeviceID] is used.
	DeviceID string
}

// VerifyLoginRequest is the second login step.
type VerifyLoginRequest struct {
	Identifier     string
	Code           string
	DeviceID       string
	RememberDevice bool
}

// AdminSummary is the profile returned with tokens.
type AdminSummary struct {
	ID                 string `json:"id"`
	Identifier         string `json:"identifier"`
	DisplayName        string `json:"display_name"`
	Role               string `json:"role"`
	HospitalID         int64  `json:"hospital_id,omitempty"`
	MustChangePassword bool   `json:"must_change_password"`
}

// LoginResult is returned by [Engine.StartLogin] and [Engine.VerifyLogin].
type LoginResult struct {
	Status LoginStatus
	// ChallengeExpiresAt is set when Status is LoginChallengeRequired.
	ChallengeExpiresAt time.Time
	// Tokens and Admin are set when Status is LoginAuthenticated.
	Tokens *token.Pair
	Admin  *AdminSummary
	// DeviceTrusted reports that the device was remembered or was already
	// trusted.
	DeviceTrusted bool
}

// PasswordResetRequest is the first reset step.
type PasswordResetRequest struct {
	Identifier   string
	FacilityCode string
}

// PasswordResetVerifyRequest is the second reset step.
type PasswordResetVerifyRequest struct {
	Identifier   string
	PrimaryToken string
	Code         string
}

// PasswordResetVerified carries the tokens for the final step.
type PasswordResetVerified struct {
	PrimaryToken   string
	SecondaryToken string
}

// PasswordResetCompleteRequest is the final reset step.
type PasswordResetCompleteRequest struct {
	Identifier      string
	PrimaryToken    string
	SecondaryToken  string
	NewPassword     string
	ConfirmPassword string
}

// SessionInfo is the validated view of an access token.
type SessionInfo struct {
	AccountID  string
	Identifier string
	Role       string
	HospitalID int64
	ExpiresAt  time.Time
	Admin      *AdminSummary
}

func summarize(a *account.Admin, hospitalID int64) *AdminSummary {
	return &AdminSummary{
		ID:                 a.ID,
		Identifier:         a.Identifier,
		DisplayName:        a.DisplayName,
		Role:               string(a.Role),
		HospitalID:         hospitalID,
		MustChangePassword: a.MustChangePassword,
	}
}

// AuditEvent is one security audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs events at a level derived from their severity.
type SlogSink = audit.SlogSink

// MemorySink keeps events in memory for tests and diagnostics.
type MemorySink = audit.MemorySink

// NewJSONWriterSink writes events to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewSlogSink logs events through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink { return audit.NewSlogSink(logger) }

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return audit.NewMemorySink() }
