package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AccessTokenTTL is the lifetime of an access token and its cookie.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL is the lifetime of a refresh token, its cookie and its session row.
	RefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultIssuer is used for iss and aud when none is configured.
	DefaultIssuer = "housegen"
)

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// AccessClaims is the identity asserted by an access token.
type AccessClaims struct {
	UserID    uuid.UUID
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies access and refresh tokens. The two token
// kinds use different keys.
type TokenCodec struct {
	access  hmacSigner
	refresh hmacSigner
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.access.now = now
		c.refresh.now = now
	}
}

// NewTokenCodec builds a codec. It refuses to build without both secrets, and
// refuses to share one secret between the two token kinds.
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	accessSecret := strings.TrimSpace(cfg.AccessSecret)
	refreshSecret := strings.TrimSpace(cfg.RefreshSecret)
	if accessSecret == "" {
		return nil, errors.New("token codec: access token secret is not set")
	}
	if refreshSecret == "" {
		return nil, errors.New("token codec: refresh token secret is not set")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token codec: access and refresh secrets must differ")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = AccessTokenTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = RefreshTokenTTL
	}

	c := &TokenCodec{
		access: hmacSigner{
			key:      []byte(accessSecret),
			issuer:   issuer,
			audience: issuer,
			ttl:      accessTTL,
			now:      time.Now,
		},
		refresh: hmacSigner{
			key: []byte(refreshSecret),
			ttl: refreshTTL,
			now: time.Now,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.access.ttl }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refresh.ttl }

type accessTokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

type refreshTokenClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// SignAccessToken issues a short-lived access token for the given identity.
func (c *TokenCodec) SignAccessToken(claims AccessClaims) (string, error) {
	payload := &accessTokenClaims{
		UserID:           claims.UserID.String(),
		Email:            claims.Email,
		Role:             claims.Role,
		RegisteredClaims: c.access.registered(),
	}
	return c.access.sign(payload)
}

// SignRefreshToken issues a refresh token bound to one session row.
func (c *TokenCodec) SignRefreshToken(userID, sessionID uuid.UUID) (string, error) {
	payload := &refreshTokenClaims{
		UserID:           userID.String(),
		SessionID:        sessionID.String(),
		RegisteredClaims: c.refresh.registered(),
	}
	return c.refresh.sign(payload)
}

// VerifyAccessToken checks signature, expiry, issuer and audience.
func (c *TokenCodec) VerifyAccessToken(token string) (*AccessClaims, error) {
	var payload accessTokenClaims
	if err := c.access.parse(token, &payload); err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return nil, invalidToken(fmt.Errorf("userId: %w", err))
	}
	if !payload.Role.Valid() {
		return nil, invalidToken(fmt.Errorf("unknown role %q", payload.Role))
	}
	return &AccessClaims{
		UserID:    userID,
		Email:     payload.Email,
		Role:      payload.Role,
		IssuedAt:  numericTime(payload.IssuedAt),
		ExpiresAt: numericTime(payload.ExpiresAt),
	}, nil
}

// VerifyRefreshToken checks signature and expiry of a refresh token.
func (c *TokenCodec) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	var payload refreshTokenClaims
	if err := c.refresh.parse(token, &payload); err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return nil, invalidToken(fmt.Errorf("userId: %w", err))
	}
	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return nil, invalidToken(fmt.Errorf("sessionId: %w", err))
	}
	return &RefreshClaims{
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  numericTime(payload.IssuedAt),
		ExpiresAt: numericTime(payload.ExpiresAt),
	}, nil
}

// hmacSigner signs HS256 tokens with one key and one lifetime.
type hmacSigner struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func (s hmacSigner) registered() jwt.RegisteredClaims {
	now := s.now()
	rc := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.issuer != "" {
		rc.Issuer = s.issuer
	}
	if s.audience != "" {
		rc.Audience = jwt.ClaimStrings{s.audience}
	}
	return rc
}

func (s hmacSigner) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s hmacSigner) parse(token string, claims jwt.Claims) error {
	if token == "" {
		return invalidToken(errors.New("empty token"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", ErrTokenVerification, ErrTokenExpired)
	}
	return invalidToken(err)
}

func invalidToken(cause error) error {
	return fmt.Errorf("%w: %w: %v", ErrTokenVerification, ErrTokenInvalid, cause)
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

const randomTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRandomToken returns an alphanumeric string of the given length for
// single-use verification and reset links.
func GenerateRandomToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("random token length must be positive, got %d", length)
	}
	alphabetSize := big.NewInt(int64(len(randomTokenAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate random token: %w", err)
		}
		b.WriteByte(randomTokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
