package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const userColumns = `id, email, password_hash, name, avatar_url, email_verified, role, created_at, updated_at`

// FindUserByEmail looks up a user by their email address.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// FindUserByID looks up a user by id.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// CreateUser inserts a new user into the database.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, email, password_hash, name, avatar_url, email_verified, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.PasswordHash),
		user.Name,
		user.AvatarURL,
		user.EmailVerified,
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// UpdateUser writes the mutable profile fields of a user.
func (r *PostgresRepository) UpdateUser(ctx context.Context, user User) (User, error) {
	const query = `
		UPDATE users
		SET name = $2, avatar_url = $3, email_verified = $4, role = $5, updated_at = $6
		WHERE id = $1
	`

	user.UpdatedAt = r.now()
	result, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.AvatarURL,
		user.EmailVerified,
		string(user.Role),
		user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// SetPasswordAndRevokeSessions updates the password hash and removes all of
// the user's sessions in a single transaction.
func (r *PostgresRepository) SetPasswordAndRevokeSessions(ctx context.Context, userID uuid.UUID, passwordHash string) (revoked int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, r.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	if n, rowsErr := result.RowsAffected(); rowsErr == nil && n == 0 {
		err = ErrUserNotFound
		return 0, err
	}

	result, err = tx.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	revoked, err = result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return revoked, nil
}

// CreateSession inserts a new session into the database.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session) (Session, error) {
	const query = `
		INSERT INTO user_sessions (id, user_id, refresh_token_hash, expires_at, created_at, last_used_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastUsedAt,
		session.UserAgent,
		session.IPAddress,
	)
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// FindSessionByRefreshHash looks up a live session by refresh-token hash.
func (r *PostgresRepository) FindSessionByRefreshHash(ctx context.Context, refreshHash string) (*Session, error) {
	const query = `
		SELECT id, user_id, refresh_token_hash, expires_at, created_at, last_used_at, user_agent, ip_address
		FROM user_sessions
		WHERE refresh_token_hash = $1 AND expires_at > $2
	`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, refreshHash, r.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toSession(), nil
}

// TouchSession records that the session was just used.
func (r *PostgresRepository) TouchSession(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE user_sessions SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, r.now())
	return err
}

// DeleteSession removes a session from the database.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM user_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteUserSessions removes every session that belongs to the user.
func (r *PostgresRepository) DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	const query = `DELETE FROM user_sessions WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpiredSessions removes all expired sessions.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const query = `DELETE FROM user_sessions WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, r.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateOneTimeToken stores a single-use token hash.
func (r *PostgresRepository) CreateOneTimeToken(ctx context.Context, token OneTimeToken) error {
	const query = `
		INSERT INTO one_time_tokens (token_hash, purpose, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.TokenHash,
		string(token.Purpose),
		token.UserID,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return err
}

// FindOneTimeToken returns the token row regardless of expiry; callers decide.
func (r *PostgresRepository) FindOneTimeToken(ctx context.Context, purpose TokenPurpose, tokenHash string) (*OneTimeToken, error) {
	const query = `
		SELECT token_hash, purpose, user_id, expires_at, created_at
		FROM one_time_tokens
		WHERE purpose = $1 AND token_hash = $2
	`

	var row oneTimeTokenRow
	if err := r.db.GetContext(ctx, &row, query, string(purpose), tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toToken(), nil
}

// DeleteOneTimeToken removes a token and reports whether it existed.
func (r *PostgresRepository) DeleteOneTimeToken(ctx context.Context, purpose TokenPurpose, tokenHash string) (bool, error) {
	const query = `DELETE FROM one_time_tokens WHERE purpose = $1 AND token_hash = $2`
	result, err := r.db.ExecContext(ctx, query, string(purpose), tokenHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpiredOneTimeTokens removes all expired single-use tokens.
func (r *PostgresRepository) DeleteExpiredOneTimeTokens(ctx context.Context) (int64, error) {
	const query = `DELETE FROM one_time_tokens WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, r.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// userRow is a database row representation of User.
type userRow struct {
	ID            uuid.UUID      `db:"id"`
	Email         string         `db:"email"`
	PasswordHash  sql.NullString `db:"password_hash"`
	Name          string         `db:"name"`
	AvatarURL     string         `db:"avatar_url"`
	EmailVerified bool           `db:"email_verified"`
	Role          string         `db:"role"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:            r.ID,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash.String,
		Name:          r.Name,
		AvatarURL:     r.AvatarURL,
		EmailVerified: r.EmailVerified,
		Role:          Role(r.Role),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type sessionRow struct {
	ID               uuid.UUID `db:"id"`
	UserID           uuid.UUID `db:"user_id"`
	RefreshTokenHash string    `db:"refresh_token_hash"`
	ExpiresAt        time.Time `db:"expires_at"`
	CreatedAt        time.Time `db:"created_at"`
	LastUsedAt       time.Time `db:"last_used_at"`
	UserAgent        string    `db:"user_agent"`
	IPAddress        string    `db:"ip_address"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:               r.ID,
		UserID:           r.UserID,
		RefreshTokenHash: r.RefreshTokenHash,
		ExpiresAt:        r.ExpiresAt,
		CreatedAt:        r.CreatedAt,
		LastUsedAt:       r.LastUsedAt,
		UserAgent:        r.UserAgent,
		IPAddress:        r.IPAddress,
	}
}

type oneTimeTokenRow struct {
	TokenHash string    `db:"token_hash"`
	Purpose   string    `db:"purpose"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *oneTimeTokenRow) toToken() *OneTimeToken {
	return &OneTimeToken{
		TokenHash: r.TokenHash,
		Purpose:   TokenPurpose(r.Purpose),
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}
