package hospitalauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/challenge"
	"github.com/MrEthical07/hospitalauth/internal/device"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/MrEthical07/hospitalauth/internal/reset"
	"github.com/MrEthical07/hospitalauth/notify"
	"github.com/MrEthical07/hospitalauth/token"
)

// Mode is the operating mode. It selects cookie security and the width of
// the second-factor time window.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// Config is the complete Engine configuration. Start from [DefaultConfig]
// and override fields; [Builder.Build] validates the result.
type Config struct {
	Mode Mode
	// RedisPrefix namespaces every counter store key.
	RedisPrefix string
	// SecurityTeam receives lockout alerts and reset notifications. Empty
	// disables those copies.
	SecurityTeam string

	JWT           JWTConfig
	Lockout       LockoutConfig
	Challenge     ChallengeConfig
	PasswordReset PasswordResetConfig
	Device        DeviceConfig
	Password      PasswordConfig
	Policy        PolicyConfig
	Audit         AuditConfig
	Notify        NotifyConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session tokens.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// RotateRefresh mints a new refresh token on every refresh.
	RotateRefresh bool
	Leeway        time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig holds the attempt governor thresholds.
type LockoutConfig struct {
	IPWindow                 time.Duration
	IPLimit                  int64
	IdentifierWindow         time.Duration
	IdentifierLimit          int64
	Duration                 time.Duration
	StuffingWindow           time.Duration
	StuffingThreshold        int64
	LockAlertSuppression     time.Duration
	StuffingAlertSuppression time.Duration
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig configures the mailed login code.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// Period is the code time step in seconds.
	Period uint
	// Skew is the number of periods accepted either side of now. Zero
	// selects the mode default.
	Skew uint
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures the three-step reset.
type PasswordResetConfig struct {
	SessionTTL         time.Duration
	CompletedRetention time.Duration
	MaxCodeFailures    int
	// The generic request response is delayed by a random duration in
	// [EnumerationDelayMin, EnumerationDelayMax].
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

// DeviceConfig configures the trusted device registry.
type DeviceConfig struct {
	TrustTTL time.Duration
}

// PasswordConfig configures hashing.
type PasswordConfig struct {
	BcryptCost int
}

// PolicyConfig holds behavior switches.
type PolicyConfig struct {
	// SkipChallengeForTrustedDevices lets a trusted device log in without a
	// new second-factor code.
	SkipChallengeForTrustedDevices bool
	// RelaxedFacilityMatch also matches the facility code against the
	// numeric hospital id.
	RelaxedFacilityMatch bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	BufferSize int
	DropIfFull bool
}

// NotifyConfig bounds notification delivery.
type NotifyConfig struct {
	Timeout time.Duration
}

// DefaultConfig returns the production configuration. The JWT signing key
// must still be supplied.
func DefaultConfig() Config {
	gov := governor.DefaultConfig()
	ch := challenge.DefaultConfig(true)
	rs := reset.DefaultConfig(true)
	return Config{
		Mode:        ModeProduction,
		RedisPrefix: "hauth",
		JWT: JWTConfig{
			SigningMethod: string(token.MethodHS256),
			Issuer:        "hospitalauth",
			AccessTTL:     token.DefaultAccessTTL,
			RefreshTTL:    token.DefaultRefreshTTL,
			RotateRefresh: true,
			Leeway:        30 * time.Second,
		},
		Lockout: LockoutConfig{
			IPWindow:                 gov.IPWindow,
			IPLimit:                  gov.IPLimit,
			IdentifierWindow:         gov.IdentifierWindow,
			IdentifierLimit:          gov.IdentifierLimit,
			Duration:                 gov.LockoutDuration,
			StuffingWindow:           gov.StuffingWindow,
			StuffingThreshold:        gov.StuffingThreshold,
			LockAlertSuppression:     gov.LockAlertSuppression,
			StuffingAlertSuppression: gov.StuffingAlertSuppression,
		},
		Challenge: ChallengeConfig{
			TTL:         ch.TTL,
			MaxAttempts: ch.MaxAttempts,
			Period:      ch.Period,
		},
		PasswordReset: PasswordResetConfig{
			SessionTTL:          rs.SessionTTL,
			CompletedRetention:  rs.CompletedRetention,
			MaxCodeFailures:     rs.MaxCodeFailures,
			EnumerationDelayMin: 20 * time.Millisecond,
			EnumerationDelayMax: 40 * time.Millisecond,
		},
		Device:   DeviceConfig{TrustTTL: device.DefaultTTL},
		Password: PasswordConfig{BcryptCost: 12},
		Audit:    AuditConfig{BufferSize: 1024, DropIfFull: true},
		Notify:   NotifyConfig{Timeout: notify.DefaultTimeout},
	}
}

// Production reports whether c runs in production mode.
func (c *Config) Production() bool {
	return c.Mode != ModeDevelopment
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return errors.New("Mode must be 'production' or 'development'")
	}

	// JWT
	if c.JWT.SigningMethod != string(token.MethodHS256) && c.JWT.SigningMethod != string(token.MethodEd25519) {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT AccessTTL and RefreshTTL must be > 0")
	}

	// Lockout
	if err := c.governorConfig().Validate(); err != nil {
		return err
	}

	// Challenge
	if err := c.challengeConfig().Validate(); err != nil {
		return err
	}

	// Password reset
	if err := c.resetConfig().Validate(); err != nil {
		return err
	}
	if c.PasswordReset.EnumerationDelayMin < 0 || c.PasswordReset.EnumerationDelayMax < c.PasswordReset.EnumerationDelayMin {
		return errors.New("PasswordReset enumeration delay range is invalid")
	}

	if c.Device.TrustTTL <= 0 {
		return errors.New("Device TrustTTL must be > 0")
	}
	if c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}
	return nil
}

func (c *Config) tokenConfig() token.Config {
	return token.Config{
		SigningMethod: token.SigningMethod(c.JWT.SigningMethod),
		PrivateKey:    cloneBytes(c.JWT.PrivateKey),
		PublicKey:     cloneBytes(c.JWT.PublicKey),
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		Rotation:      c.JWT.RotateRefresh,
		Leeway:        c.JWT.Leeway,
	}
}

func (c *Config) governorConfig() governor.Config {
	return governor.Config{
		IPWindow:                 c.Lockout.IPWindow,
		IPLimit:                  c.Lockout.IPLimit,
		IdentifierWindow:         c.Lockout.IdentifierWindow,
		IdentifierLimit:          c.Lockout.IdentifierLimit,
		LockoutDuration:          c.Lockout.Duration,
		StuffingWindow:           c.Lockout.StuffingWindow,
		StuffingThreshold:        c.Lockout.StuffingThreshold,
		LockAlertSuppression:     c.Lockout.LockAlertSuppression,
		StuffingAlertSuppression: c.Lockout.StuffingAlertSuppression,
		SecurityTeam:             c.SecurityTeam,
	}
}

func (c *Config) challengeConfig() challenge.Config {
	cfg := challenge.Config{
		TTL:         c.Challenge.TTL,
		MaxAttempts: c.Challenge.MaxAttempts,
		Period:      c.Challenge.Period,
		Skew:        c.Challenge.Skew,
	}
	if cfg.Skew == 0 {
		cfg.Skew = challenge.DefaultConfig(c.Production()).Skew
	}
	return cfg
}

func (c *Config) resetConfig() reset.Config {
	ch := c.challengeConfig()
	return reset.Config{
		SessionTTL:         c.PasswordReset.SessionTTL,
		CompletedRetention: c.PasswordReset.CompletedRetention,
		MaxCodeFailures:    c.PasswordReset.MaxCodeFailures,
		CodePeriod:         ch.Period,
		CodeSkew:           ch.Skew,
		SecurityTeam:       c.SecurityTeam,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
