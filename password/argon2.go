package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// ErrMalformedHash is returned when a stored argon2id string cannot be
// parsed or carries parameters below the accepted floor.
var ErrMalformedHash = errors.New("password: malformed argon2id hash")

// Argon2Config holds argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config matches the parameters legacy hashes were written with.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// floor is the weakest configuration still hashed with or accepted on verify.
var floor = Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

func (c Argon2Config) check() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("argon2 memory %d KiB below %d", c.Memory, floor.Memory)
	case c.Time < floor.Time:
		return fmt.Errorf("argon2 time cost %d below %d", c.Time, floor.Time)
	case c.Parallelism < floor.Parallelism:
		return fmt.Errorf("argon2 parallelism %d below %d", c.Parallelism, floor.Parallelism)
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("argon2 salt length %d below %d", c.SaltLength, floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("argon2 key length %d below %d", c.KeyLength, floor.KeyLength)
	}
	return nil
}

// Argon2 verifies argon2id hashes carried over from the previous account
// store. New hashes are bcrypt; see [Multi].
type Argon2 struct {
	config Argon2Config
}

// NewArgon2 rejects configurations below the accepted floor.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash encodes password in PHC form:
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	c := a.config
	key := argon2.IDKey([]byte(password), salt, c.Time, c.Memory, c.Parallelism, c.KeyLength)
	return encodePHC(c, salt, key), nil
}

func encodePHC(c Argon2Config, salt, key []byte) string {
	enc := base64.StdEncoding
	return fmt.Sprintf("%sv=%d$%s$%s$%s", argon2Prefix, argon2.Version,
		paramString(c), enc.EncodeToString(salt), enc.EncodeToString(key))
}

func paramString(c Argon2Config) string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", c.Memory, c.Time, c.Parallelism)
}

// Verify recomputes the key with the parameters stored in encodedHash, not
// the receiver's configuration.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	c, salt, want, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, c.Time, c.Memory, c.Parallelism, c.KeyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decodePHC(encoded string) (Argon2Config, []byte, []byte, error) {
	var c Argon2Config
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return c, nil, nil, ErrMalformedHash
	}
	fields := strings.Split(strings.TrimPrefix(encoded, argon2Prefix), "$")
	if len(fields) != 4 {
		return c, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return c, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[0])
	}
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &c.Memory, &c.Time, &c.Parallelism); err != nil ||
		paramString(c) != fields[1] {
		return c, nil, nil, fmt.Errorf("%w: parameters %q", ErrMalformedHash, fields[1])
	}

	salt, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return c, nil, nil, fmt.Errorf("%w: salt encoding", ErrMalformedHash)
	}
	key, err := base64.StdEncoding.DecodeString(fields[3])
	if err != nil {
		return c, nil, nil, fmt.Errorf("%w: key encoding", ErrMalformedHash)
	}
	c.SaltLength, c.KeyLength = uint32(len(salt)), uint32(len(key))
	if err := c.check(); err != nil {
		return c, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return c, salt, key, nil
}
