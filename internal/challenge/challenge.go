// Package challenge issues and verifies the one-time code that completes an
// administrator sign-in.
//
// A challenge is keyed by login identifier; issuing a new one replaces the
// previous challenge and its attempt counter. Each challenge carries its own
// TOTP secret: the code that was mailed is matched exactly by hash, and a
// code re-derived from the secret (see [Issuer.Resend]) is matched within a
// skew window that is wider in development than in production.
package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/MrEthical07/hospitalauth/notify"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 3
	// DefaultPeriod is long because codes travel by email.
	DefaultPeriod   = 300
	ProductionSkew  = 1
	DevelopmentSkew = 2
)

// Config configures an [Issuer].
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	Period      uint
	Skew        uint
}

// DefaultConfig returns the settings for the given operating mode.
func DefaultConfig(production bool) Config {
	cfg := Config{
		TTL:         DefaultTTL,
		MaxAttempts: DefaultMaxAttempts,
		Period:      DefaultPeriod,
		Skew:        DevelopmentSkew,
	}
	if production {
		cfg.Skew = ProductionSkew
	}
	return cfg
}

// Validate rejects a non-positive TTL, period or attempt limit.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("challenge: ttl must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("challenge: max attempts must be > 0")
	}
	if c.Period == 0 {
		return errors.New("challenge: period must be > 0")
	}
	return nil
}

// Owner is the account a challenge was issued for and the facility it
// logged in to.
type Owner struct {
	AccountID  string
	HospitalID int64
}

// Challenge describes an issued challenge.
type Challenge struct {
	Owner
	IssuedAt  time.Time
	ExpiresAt time.Time
	Delivered bool
}

type record struct {
	AccountID  string    `json:"account_id"`
	HospitalID int64     `json:"hospital_id,omitempty"`
	CodeHash   string    `json:"code_hash"`
	Secret     string    `json:"secret"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Issuer stores challenges in the counter store and mails their codes.
type Issuer struct {
	store    counter.Store
	notifier *notify.Dispatcher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewIssuer creates an Issuer. notifier may be nil in tests that read
// codes another way.
func NewIssuer(store counter.Store, notifier *notify.Dispatcher, cfg Config, logger *slog.Logger) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("challenge: counter store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Issuer{store: store, notifier: notifier, cfg: cfg, logger: logger, now: time.Now}, nil
}

// WithClock overrides the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

func challengeKey(identifier string) string { return "2fa:" + identifier }
func attemptsKey(identifier string) string  { return "2fa:attempts:" + identifier }

// Issue creates a challenge for identifier and mails its code to contact.
// An empty contact stores the challenge without delivering it.
func (i *Issuer) Issue(ctx context.Context, identifier string, owner Owner, contact string) (*Challenge, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", failure.ErrInvalidInput)
	}
	secret, err := NewSecret(identifier)
	if err != nil {
		return nil, err
	}
	now := i.now()
	code, err := CodeAt(secret, now, i.cfg.Period)
	if err != nil {
		return nil, err
	}

	rec := record{
		AccountID:  owner.AccountID,
		HospitalID: owner.HospitalID,
		CodeHash:   HashCode(code),
		Secret:     secret,
		IssuedAt:   now.UTC(),
		ExpiresAt:  now.Add(i.cfg.TTL).UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := i.store.Set(ctx, challengeKey(identifier), raw, i.cfg.TTL); err != nil {
		return nil, err
	}
	if err := i.store.Delete(ctx, attemptsKey(identifier)); err != nil {
		return nil, err
	}

	delivered := i.deliver(ctx, contact, code)
	return &Challenge{Owner: owner, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt, Delivered: delivered}, nil
}

// Resend mails a code re-derived from the live challenge's secret. The
// challenge, its expiry and its attempt counter are unchanged.
func (i *Issuer) Resend(ctx context.Context, identifier, contact string) error {
	rec, _, err := i.load(ctx, identifier)
	if err != nil {
		return err
	}
	code, err := CodeAt(rec.Secret, i.now(), i.cfg.Period)
	if err != nil {
		return err
	}
	i.deliver(ctx, contact, code)
	return nil
}

// Verify checks code against the identifier's challenge. A match consumes
// the challenge. Too many wrong codes destroy it.
func (i *Issuer) Verify(ctx context.Context, identifier, code string) (*Challenge, error) {
	rec, raw, err := i.load(ctx, identifier)
	if err != nil {
		return nil, err
	}
	now := i.now()
	remaining := rec.ExpiresAt.Sub(now)

	n, err := i.store.Increment(ctx, attemptsKey(identifier), remaining)
	if err != nil {
		return nil, err
	}
	limit := int64(i.cfg.MaxAttempts)
	if n > limit {
		return nil, i.destroy(ctx, identifier, failure.ErrTooManyAttempts)
	}

	if !Match(code, rec.CodeHash, rec.Secret, now, i.cfg.Period, i.cfg.Skew) {
		metrics.SecondFactor.WithLabelValues("invalid").Inc()
		if n >= limit {
			return nil, i.destroy(ctx, identifier, failure.ErrTooManyAttempts)
		}
		return nil, &failure.CodeError{Remaining: int(limit - n)}
	}

	// Claim the exact record we verified; a concurrent verify or a newer
	// challenge makes this one unusable.
	err = i.store.Update(ctx, challengeKey(identifier), func(current []byte) (counter.Mutation, error) {
		if current == nil || !bytes.Equal(current, raw) {
			return counter.Mutation{}, failure.ErrChallengeExpired
		}
		return counter.Mutation{Delete: true}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := i.store.Delete(ctx, attemptsKey(identifier)); err != nil {
		i.logger.WarnContext(ctx, "challenge attempts counter not cleared", "error", err)
	}
	metrics.SecondFactor.WithLabelValues("verified").Inc()
	return &Challenge{Owner: Owner{AccountID: rec.AccountID, HospitalID: rec.HospitalID}, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt, Delivered: true}, nil
}

// Revoke deletes any challenge for identifier.
func (i *Issuer) Revoke(ctx context.Context, identifier string) error {
	return i.store.Delete(ctx, challengeKey(identifier), attemptsKey(identifier))
}

func (i *Issuer) load(ctx context.Context, identifier string) (*record, []byte, error) {
	raw, err := i.store.Get(ctx, challengeKey(identifier))
	if errors.Is(err, counter.ErrNotFound) {
		return nil, nil, failure.ErrChallengeExpired
	}
	if err != nil {
		return nil, nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = i.Revoke(ctx, identifier)
		return nil, nil, failure.ErrChallengeExpired
	}
	if !i.now().Before(rec.ExpiresAt) {
		_ = i.Revoke(ctx, identifier)
		return nil, nil, failure.ErrChallengeExpired
	}
	return &rec, raw, nil
}

func (i *Issuer) destroy(ctx context.Context, identifier string, cause error) error {
	metrics.SecondFactor.WithLabelValues("exhausted").Inc()
	if err := i.Revoke(ctx, identifier); err != nil {
		return err
	}
	return cause
}

func (i *Issuer) deliver(ctx context.Context, contact, code string) bool {
	if contact == "" || i.notifier == nil {
		i.logger.WarnContext(ctx, "verification code not delivered: no mailbox on file")
		return false
	}
	minutes := int(i.cfg.TTL / time.Minute)
	body := fmt.Sprintf("Your hospital administrator verification code is %s.\n\nIt expires in %d minutes. Do not share it with anyone.", code, minutes)
	i.notifier.Send(ctx, contact, "Your sign-in verification code", body)
	return true
}
