// Package config loads the server binaries' settings from the environment
// and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hospitalauth"
	"github.com/spf13/viper"
)

const minSigningKeyBytes = 32

// Config holds process configuration. Field tags name the environment keys.
type Config struct {
	// Env is "production" or "development".
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the listen address of the HTTP surface.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory account
	// repository seeded from SEED_ADMIN_* (development only).
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`

	JWTSigningKey   string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	JWTAudience     string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL    time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL   time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	RefreshRotation bool          `mapstructure:"REFRESH_ROTATION"`
	CookieDomain    string        `mapstructure:"COOKIE_DOMAIN"`
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`

	SecurityTeamEmail string `mapstructure:"SECURITY_TEAM_EMAIL"`
	MailGatewayURL    string `mapstructure:"MAIL_GATEWAY_URL"`
	MailGatewayToken  string `mapstructure:"MAIL_GATEWAY_TOKEN"`
	MailFrom          string `mapstructure:"MAIL_FROM"`
	GeoLookupURL      string `mapstructure:"GEO_LOOKUP_URL"`

	RelaxedFacilityMatch bool `mapstructure:"RELAXED_FACILITY_MATCH"`
	TrustedDeviceSkip2FA bool `mapstructure:"TRUSTED_DEVICE_SKIP_2FA"`
	BcryptCost           int  `mapstructure:"BCRYPT_COST"`

	LogJSON  bool   `mapstructure:"LOG_JSON"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	Seed SeedAdmin `mapstructure:",squash"`
}

// SeedAdmin describes the administrator created in the in-memory
// repository when no database is configured.
type SeedAdmin struct {
	Identifier   string `mapstructure:"SEED_ADMIN_IDENTIFIER"`
	Password     string `mapstructure:"SEED_ADMIN_PASSWORD"`
	DisplayName  string `mapstructure:"SEED_ADMIN_NAME"`
	AlertEmail   string `mapstructure:"SEED_ADMIN_ALERT_EMAIL"`
	FacilityCode string `mapstructure:"SEED_ADMIN_FACILITY_CODE"`
	FacilityName string `mapstructure:"SEED_ADMIN_FACILITY_NAME"`
}

// Enabled reports whether a seed admin was configured.
func (s SeedAdmin) Enabled() bool {
	return s.Identifier != "" && s.Password != ""
}

// Load reads .env (if present), then the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored;
// environment variables override it.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing .env is fine
	}
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "production")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "hauth")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("JWT_ISSUER", "hospitalauth")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("JWT_REFRESH_TTL", "24h")
	v.SetDefault("REFRESH_ROTATION", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("SECURITY_TEAM_EMAIL", "")
	v.SetDefault("MAIL_GATEWAY_URL", "")
	v.SetDefault("MAIL_GATEWAY_TOKEN", "")
	v.SetDefault("MAIL_FROM", "no-reply@hospitalauth.local")
	v.SetDefault("GEO_LOOKUP_URL", "")
	v.SetDefault("RELAXED_FACILITY_MATCH", false)
	v.SetDefault("TRUSTED_DEVICE_SKIP_2FA", false)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SEED_ADMIN_IDENTIFIER", "")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
	v.SetDefault("SEED_ADMIN_NAME", "Seed Administrator")
	v.SetDefault("SEED_ADMIN_ALERT_EMAIL", "")
	v.SetDefault("SEED_ADMIN_FACILITY_CODE", "DEV")
	v.SetDefault("SEED_ADMIN_FACILITY_NAME", "Development Hospital")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseURL reads DATABASE_URL from .env and the environment without
// validating the rest of the settings. The migration binary uses it.
func DatabaseURL() string {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	v.SetDefault("DATABASE_URL", "")
	return v.GetString("DATABASE_URL")
}

// Production reports whether APP_ENV selects production mode.
func (c *Config) Production() bool {
	return c.Env != string(hospitalauth.ModeDevelopment)
}

// Validate checks the settings a process cannot start without.
func (c *Config) Validate() error {
	if c.Env != string(hospitalauth.ModeProduction) && c.Env != string(hospitalauth.ModeDevelopment) {
		return errors.New("config: APP_ENV must be production or development")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be > 0")
	}
	if !c.Production() {
		return nil
	}

	if len(c.JWTSigningKey) < minSigningKeyBytes {
		return fmt.Errorf("config: JWT_SIGNING_KEY must be at least %d bytes in production", minSigningKeyBytes)
	}
	if c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set in production")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set in production")
	}
	return nil
}

// Engine maps the process settings onto the engine configuration. In
// development an empty signing key is replaced by a fixed one so that a
// local server starts without setup.
func (c *Config) Engine() hospitalauth.Config {
	cfg := hospitalauth.DefaultConfig()
	cfg.Mode = hospitalauth.ModeProduction
	if !c.Production() {
		cfg.Mode = hospitalauth.ModeDevelopment
	}
	cfg.RedisPrefix = c.RedisPrefix
	cfg.SecurityTeam = c.SecurityTeamEmail

	key := c.JWTSigningKey
	if key == "" && !c.Production() {
		key = "development-only-signing-key-0123456789"
	}
	cfg.JWT.PrivateKey = []byte(key)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.AccessTTL = c.JWTAccessTTL
	cfg.JWT.RefreshTTL = c.JWTRefreshTTL
	cfg.JWT.RotateRefresh = c.RefreshRotation

	cfg.Password.BcryptCost = c.BcryptCost
	cfg.Policy.RelaxedFacilityMatch = c.RelaxedFacilityMatch
	cfg.Policy.SkipChallengeForTrustedDevices = c.TrustedDeviceSkip2FA
	return cfg
}
