package challenge

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	codeDigits = otp.DigitsSix
	secretSize = 20
	issuerName = "HospitalAdmin"
)

// NewSecret returns a fresh base32 TOTP secret labelled for accountName.
func NewSecret(accountName string) (string, error) {
	if accountName == "" {
		accountName = "admin"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuerName,
		AccountName: accountName,
		SecretSize:  secretSize,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate challenge secret: %w", err)
	}
	return key.Secret(), nil
}

func validateOpts(period, skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// CodeAt derives the six digit code for secret at t.
func CodeAt(secret string, t time.Time, period uint) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts(period, 0))
}

// HashCode returns the hex SHA-256 of code; only hashes are stored.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Match accepts code when it equals the stored hash, or when it is a valid
// recomputation from secret within skew periods of now.
func Match(code, storedHash, secret string, now time.Time, period, skew uint) bool {
	if !wellFormed(code) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(storedHash)) == 1 {
		return true
	}
	if secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, validateOpts(period, skew))
	return err == nil && ok
}

func wellFormed(code string) bool {
	if len(code) != codeDigits.Length() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
