// Package device remembers browsers that recently completed a second
// factor for an account.
//
// A trusted device is only a presence flag. The stored token is never
// compared with anything a client sends; it exists so that the record has
// an opaque value and can be listed in audits.
package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/failure"
)

// DefaultTTL is how long a device stays trusted.
const DefaultTTL = 30 * 24 * time.Hour

const maxDeviceIDLength = 256

// Registry stores trusted devices in the counter store.
type Registry struct {
	store counter.Store
	ttl   time.Duration
}

// NewRegistry creates a Registry; a non-positive ttl uses [DefaultTTL].
func NewRegistry(store counter.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: store, ttl: ttl}
}

// Device ids are client-chosen, so they are hashed into a bounded key.
func key(accountID, deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return "device:" + accountID + ":" + hex.EncodeToString(sum[:16])
}

func validate(accountID, deviceID string) error {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: account and device id are required", failure.ErrInvalidInput)
	}
	if len(deviceID) > maxDeviceIDLength {
		return fmt.Errorf("%w: device id too long", failure.ErrInvalidInput)
	}
	return nil
}

// Remember trusts deviceID for accountID and returns the opaque token stored
// for it. Remembering again renews the TTL.
func (r *Registry) Remember(ctx context.Context, accountID, deviceID string) (string, error) {
	if err := validate(accountID, deviceID); err != nil {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := r.store.Set(ctx, key(accountID, deviceID), []byte(token), r.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// IsTrusted reports whether deviceID is currently trusted for accountID.
func (r *Registry) IsTrusted(ctx context.Context, accountID, deviceID string) (bool, error) {
	if validate(accountID, deviceID) != nil {
		return false, nil
	}
	_, err := r.store.Get(ctx, key(accountID, deviceID))
	if errors.Is(err, counter.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Forget removes trust for deviceID.
func (r *Registry) Forget(ctx context.Context, accountID, deviceID string) error {
	if validate(accountID, deviceID) != nil {
		return nil
	}
	return r.store.Delete(ctx, key(accountID, deviceID))
}
