package auth

import (
	"context"

	"github.com/google/uuid"
)

// UserStore persists user records. Lookups return nil, nil when nothing matches.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// CreateUser returns ErrEmailTaken when the email already exists.
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	// SetPasswordAndRevokeSessions replaces the password hash and deletes every
	// session of the user as one unit. It returns the number of revoked sessions.
	SetPasswordAndRevokeSessions(ctx context.Context, userID uuid.UUID, passwordHash string) (int64, error)
}

// SessionStore persists refresh-token sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	// FindSessionByRefreshHash only returns sessions that have not expired.
	FindSessionByRefreshHash(ctx context.Context, refreshHash string) (*Session, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// OneTimeTokenStore persists single-use verification and reset tokens.
type OneTimeTokenStore interface {
	CreateOneTimeToken(ctx context.Context, token OneTimeToken) error
	FindOneTimeToken(ctx context.Context, purpose TokenPurpose, tokenHash string) (*OneTimeToken, error)
	// DeleteOneTimeToken reports whether a row was removed, so that exactly
	// one caller can claim a token.
	DeleteOneTimeToken(ctx context.Context, purpose TokenPurpose, tokenHash string) (bool, error)
	DeleteExpiredOneTimeTokens(ctx context.Context) (int64, error)
}

// Repository is the full persistence surface used by the auth core.
type Repository interface {
	UserStore
	SessionStore
	OneTimeTokenStore
}
