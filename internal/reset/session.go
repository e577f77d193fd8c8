package reset

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a reset session.
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusEmailVerified Status = "email_verified"
	StatusCompleted     Status = "completed"
)

// StepEmailVerification is recorded once the mailed code was verified.
const StepEmailVerification = "email_verification"

// Session is the stored state of one reset attempt.
type Session struct {
	AccountID      string    `json:"account_id"`
	Identifier     string    `json:"identifier"`
	CodeHash       string    `json:"code_hash"`
	Secret         string    `json:"mfa_secret"`
	SecondaryToken string    `json:"secondary_token"`
	CompletedSteps []string  `json:"completed_steps"`
	Status         Status    `json:"status"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Session) hasStep(step string) bool {
	return slices.Contains(s.CompletedSteps, step)
}

func sessionKey(identifier, primary string) string {
	return "pwreset:" + identifier + ":" + primary
}

func failuresKey(identifier, primary string) string {
	return "pwreset:failures:" + identifier + ":" + primary
}

func newPrimaryToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newSecondaryToken() string {
	return uuid.NewString()
}

// validPrimary keeps malformed tokens out of store keys.
func validPrimary(token string) bool {
	if len(token) != 32 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
