package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level attached to a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account, whether it was created by registration or by
// federated sign-in. Email is unique across both paths.
type User struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  string
	Name          string
	AvatarURL     string
	EmailVerified bool
	Role          Role
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword reports whether the account can sign in with credentials.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Session is the server-side revocation record for one refresh token. Only
// the hash of the token is kept.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	LastUsedAt       time.Time
	UserAgent        string
	IPAddress        string
}

// TokenPurpose scopes a single-use token to one flow.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// OneTimeToken is a single-use, time-boxed token pointing at one user.
type OneTimeToken struct {
	TokenHash string
	Purpose   TokenPurpose
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}
