package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"

	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)

// Config configures an [Issuer].
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or the ed25519 private key
	// (raw or PEM) for ed25519.
	PrivateKey []byte
	// PublicKey is only used for ed25519; it is derived from PrivateKey when empty.
	PublicKey  []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Rotation   bool
	Leeway     time.Duration
}

// Subject is who a token pair is issued to.
type Subject struct {
	AccountID  string
	Identifier string
	Role       string
	HospitalID int64
}

// Claims are the claims carried by both token kinds. RegisteredClaims.Subject
// is the account id.
type Claims struct {
	Kind       string `json:"typ"`
	Identifier string `json:"idn"`
	Role       string `json:"role,omitempty"`
	HospitalID int64  `json:"hid,omitempty"`
	jwt.RegisteredClaims
}

// AsSubject returns the subject the claims were issued to.
func (c *Claims) AsSubject() Subject {
	return Subject{AccountID: c.RegisteredClaims.Subject, Identifier: c.Identifier, Role: c.Role, HospitalID: c.HospitalID}
}

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Issuer mints and parses session tokens.
type Issuer struct {
	config Config
	sign   any
	verify any
	now    func() time.Time
}

// NewIssuer fills default TTLs and the signing method, then checks the key
// material for that method.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token: invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("token: refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	i := &Issuer{config: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("token: hs256 requires a key of at least 32 bytes")
		}
		i.sign, i.verify = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			if pub, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		i.sign, i.verify = priv, pub
	default:
		return nil, errors.New("token: unsupported signing method")
	}
	return i, nil
}

// WithClock overrides the time source for minting and validation.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

// Rotation reports whether refresh exchanges mint a new refresh token.
func (i *Issuer) Rotation() bool { return i.config.Rotation }

// Issue mints a new pair for sub.
func (i *Issuer) Issue(sub Subject) (*Pair, error) {
	if sub.AccountID == "" {
		return nil, errors.New("token: subject account id is required")
	}
	now := i.now()
	access, accessExp, err := i.mint(KindAccess, sub, now, i.config.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.mint(KindRefresh, sub, now, i.config.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation a
// new refresh token is minted; otherwise the presented one is returned.
func (i *Issuer) Refresh(refreshToken string) (*Pair, *Claims, error) {
	claims, err := i.parse(refreshToken, KindRefresh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", failure.ErrInvalidRefreshToken, err)
	}
	sub := claims.AsSubject()
	now := i.now()

	access, accessExp, err := i.mint(KindAccess, sub, now, i.config.AccessTTL)
	if err != nil {
		return nil, nil, err
	}
	pair := &Pair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: claims.ExpiresAt.Time,
	}
	if i.config.Rotation {
		pair.RefreshToken, pair.RefreshExpiresAt, err = i.mint(KindRefresh, sub, now, i.config.RefreshTTL)
		if err != nil {
			return nil, nil, err
		}
	}
	return pair, claims, nil
}

// ParseAccess validates an access token.
func (i *Issuer) ParseAccess(tokenStr string) (*Claims, error) {
	claims, err := i.parse(tokenStr, KindAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrInvalidAccessToken, err)
	}
	return claims, nil
}

func (i *Issuer) mint(kind string, sub Subject, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Kind:       kind,
		Identifier: sub.Identifier,
		Role:       sub.Role,
		HospitalID: sub.HospitalID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.AccountID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}
	signed, err := jwt.NewWithClaims(i.method(), claims).SignedString(i.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) parse(tokenStr, kind string) (*Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, errors.New("token is empty")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	tok, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return i.verify, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("token kind %q, want %q", claims.Kind, kind)
	}
	if claims.RegisteredClaims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
