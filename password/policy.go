package password

import (
	"errors"
	"fmt"
	"unicode"
)

const (
	MinBytes = 10
	// MaxBytes is bcrypt's input limit.
	MaxBytes = 72
)

// ErrPolicy is wrapped by every [Validate] failure.
var ErrPolicy = errors.New("password policy violation")

// Validate enforces length bounds and requires at least one letter and one digit.
func Validate(password string) error {
	if len(password) < MinBytes {
		return fmt.Errorf("%w: must be at least %d bytes", ErrPolicy, MinBytes)
	}
	if len(password) > MaxBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPolicy, MaxBytes)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("%w: must contain a letter and a digit", ErrPolicy)
	}
	return nil
}
