package password

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned for stored hashes no verifier understands.
var ErrUnsupportedHash = errors.New("password: unsupported hash format")

// Hasher creates and checks password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	Cost int
}

// NewBcrypt clamps cost into bcrypt's accepted range; 0 uses the default cost.
func NewBcrypt(cost int) *Bcrypt {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Bcrypt{Cost: cost}
}

func (b *Bcrypt) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// Multi hashes with Primary and verifies with whichever hasher matches the
// stored hash prefix.
type Multi struct {
	Primary *Bcrypt
	Legacy  *Argon2
}

// NewMulti returns a bcrypt-primary hasher that also verifies argon2id.
func NewMulti(cost int) *Multi {
	legacy, _ := NewArgon2(DefaultArgon2Config())
	return &Multi{Primary: NewBcrypt(cost), Legacy: legacy}
}

func (m *Multi) Hash(password string) (string, error) {
	return m.Primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isBcrypt(encodedHash):
		return m.Primary.Verify(password, encodedHash)
	case strings.HasPrefix(encodedHash, argon2Prefix) && m.Legacy != nil:
		return m.Legacy.Verify(password, encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

func isBcrypt(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("hospitalauth-timing-equaliser"), bcrypt.DefaultCost)
	return h
})

// DummyCompare spends roughly one default-cost bcrypt comparison so that an
// unknown account takes as long to reject as a wrong password.
func DummyCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}
