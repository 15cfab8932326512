package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OAuthSessionTTL matches AccessTokenTTL so both mechanisms re-validate on
// the same cadence.
const OAuthSessionTTL = AccessTokenTTL

// ProviderProfile is what a federated identity provider asserts about the
// signed-in person.
type ProviderProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// OAuthSessionClaims is the identity carried by an OAuth session token.
type OAuthSessionClaims struct {
	UserID    uuid.UUID
	Email     string
	Role      Role
	AvatarRef string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// OAuthConfig configures an OAuthAdapter.
type OAuthConfig struct {
	SessionSecret string
	Issuer        string
	SessionTTL    time.Duration
}

// OAuthAdapter reconciles federated sign-ins with the user store and issues
// its own short-lived session token, independent of the cookie pair.
type OAuthAdapter struct {
	users        UserStore
	signer       hmacSigner
	logger       *slog.Logger
	storeTimeout time.Duration
}

// NewOAuthAdapter creates an OAuthAdapter. The session secret is required.
func NewOAuthAdapter(users UserStore, cfg OAuthConfig, logger *slog.Logger) (*OAuthAdapter, error) {
	secret := strings.TrimSpace(cfg.SessionSecret)
	if secret == "" {
		return nil, errors.New("oauth adapter: session secret is not set")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = OAuthSessionTTL
	}
	return &OAuthAdapter{
		users: users,
		signer: hmacSigner{
			key:      []byte(secret),
			issuer:   issuer,
			audience: issuer,
			ttl:      ttl,
			now:      time.Now,
		},
		logger:       logger,
		storeTimeout: DefaultStoreTimeout,
	}, nil
}

// SessionTTL returns the lifetime of issued session tokens.
func (a *OAuthAdapter) SessionTTL() time.Duration { return a.signer.ttl }

// SignIn finds or creates the user for a verified provider email. New users
// are created with a verified email. For existing users the provider picture
// replaces the stored avatar when it differs; the sync never flows the other
// way. Any store error aborts the sign-in.
func (a *OAuthAdapter) SignIn(ctx context.Context, profile ProviderProfile) (*User, error) {
	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, validationError("provider did not supply an email")
	}

	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	existing, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if existing == nil {
		now := a.signer.now()
		created, err := a.users.CreateUser(ctx, User{
			ID:            uuid.New(),
			Email:         email,
			Name:          profile.Name,
			AvatarURL:     profile.Picture,
			EmailVerified: true,
			Role:          RoleUser,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err == nil {
			a.logger.Info("oauth user created", "user_id", created.ID, "provider", profile.Provider)
			return &created, nil
		}
		if !errors.Is(err, ErrEmailTaken) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// Lost a race with a concurrent sign-in for the same email.
		existing, err = a.users.FindUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("find user: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("create user: %w", ErrEmailTaken)
		}
	}

	changed := false
	if profile.Picture != "" && profile.Picture != existing.AvatarURL {
		existing.AvatarURL = profile.Picture
		changed = true
	}
	if profile.EmailVerified && !existing.EmailVerified {
		existing.EmailVerified = true
		changed = true
	}
	if changed {
		updated, err := a.users.UpdateUser(ctx, *existing)
		if err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		existing = &updated
	}

	return existing, nil
}

type oauthSessionTokenClaims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	AvatarRef string `json:"avatarRef,omitempty"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs an OAuth session token for the user. The avatar
// reference is the stored avatar, else the provider image, else omitted.
func (a *OAuthAdapter) IssueSessionToken(user *User, providerImage string) (string, error) {
	avatar := user.AvatarURL
	if avatar == "" {
		avatar = providerImage
	}
	return a.signer.sign(&oauthSessionTokenClaims{
		UserID:           user.ID.String(),
		Email:            user.Email,
		Role:             user.Role,
		AvatarRef:        avatar,
		RegisteredClaims: a.signer.registered(),
	})
}

// VerifySessionToken validates an OAuth session token.
func (a *OAuthAdapter) VerifySessionToken(token string) (*OAuthSessionClaims, error) {
	var payload oauthSessionTokenClaims
	if err := a.signer.parse(token, &payload); err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return nil, invalidToken(fmt.Errorf("userId: %w", err))
	}
	if !payload.Role.Valid() {
		return nil, invalidToken(fmt.Errorf("unknown role %q", payload.Role))
	}
	return &OAuthSessionClaims{
		UserID:    userID,
		Email:     payload.Email,
		Role:      payload.Role,
		AvatarRef: payload.AvatarRef,
		IssuedAt:  numericTime(payload.IssuedAt),
		ExpiresAt: numericTime(payload.ExpiresAt),
	}, nil
}
